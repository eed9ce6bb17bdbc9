package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/fateweaver/internal/audiocache"
	"github.com/loqalabs/fateweaver/internal/contract"
	"github.com/loqalabs/fateweaver/internal/conversation"
	"github.com/loqalabs/fateweaver/internal/llm"
	"github.com/loqalabs/fateweaver/internal/prompt"
	"github.com/loqalabs/fateweaver/internal/world"
)

const instrumentationName = "github.com/loqalabs/fateweaver/internal/pipeline"

// MethodUnavailable marks a reply produced because generation failed.
const MethodUnavailable contract.Method = "unavailable"

// ApologyText is spoken by the narrator when generation fails.
const ApologyText = "[distant] The threads of fate tangle for a moment. Speak again, traveler."

// ErrEmptyMessage is returned for blank user input. Nothing is generated,
// synthesized, or appended.
var ErrEmptyMessage = errors.New("empty message")

// AudioStore produces audio for a resolved line. *audiocache.Cache satisfies it.
type AudioStore interface {
	Ensure(ctx context.Context, speaker, text string) (audiocache.Artifact, error)
}

// Result is one reply ready for display and playback. Audio fields are empty
// when synthesis was skipped or failed.
type Result struct {
	Speaker      string          `json:"speaker"`
	Text         string          `json:"text"`
	Location     string          `json:"location"`
	DisplayLine  string          `json:"display_line"`
	AudioPath    string          `json:"audio_path,omitempty"`
	AudioDataURI string          `json:"audio_src_base64,omitempty"`
	Method       contract.Method `json:"method"`
	AudioCached  bool            `json:"audio_cached,omitempty"`
}

// Turn is the history entry for the reply.
func (r Result) Turn() conversation.Turn {
	return conversation.Turn{Speaker: r.Speaker, Text: r.Text}
}

type Options struct {
	Generator         llm.Generator
	Composer          *prompt.Composer
	World             *world.Model
	Audio             AudioStore
	Defaults          llm.Request
	Window            int
	GenerationTimeout time.Duration
	Logger            *slog.Logger
	Meter             metric.Meter
	Tracer            trace.Tracer
}

// Pipeline turns one user message plus prior history into a reply.
type Pipeline struct {
	generator llm.Generator
	composer  *prompt.Composer
	world     *world.Model
	audio     AudioStore
	defaults  llm.Request
	window    int
	timeout   time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer

	turns         metric.Int64Counter
	genLatency    metric.Float64Histogram
	genFailures   metric.Int64Counter
	audioFailures metric.Int64Counter
	audioHits     metric.Int64Counter
}

func New(opts Options) (*Pipeline, error) {
	if opts.Generator == nil {
		return nil, errors.New("pipeline requires a generator")
	}
	if opts.World == nil {
		opts.World = world.New(nil, nil)
	}
	if opts.Composer == nil {
		opts.Composer = prompt.NewComposer(opts.World, 0)
	}
	if opts.Window <= 0 {
		opts.Window = conversation.DefaultWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Meter == nil {
		opts.Meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}

	p := &Pipeline{
		generator: opts.Generator,
		composer:  opts.Composer,
		world:     opts.World,
		audio:     opts.Audio,
		defaults:  opts.Defaults,
		window:    opts.Window,
		timeout:   opts.GenerationTimeout,
		logger:    opts.Logger.With(slog.String("component", "pipeline")),
		tracer:    opts.Tracer,
	}

	var err error
	if p.turns, err = opts.Meter.Int64Counter("fateweaver.turns",
		metric.WithDescription("Replies produced, by parse method")); err != nil {
		return nil, err
	}
	if p.genLatency, err = opts.Meter.Float64Histogram("fateweaver.generation.latency",
		metric.WithUnit("ms"), metric.WithDescription("Generation call latency")); err != nil {
		return nil, err
	}
	if p.genFailures, err = opts.Meter.Int64Counter("fateweaver.generation.failures"); err != nil {
		return nil, err
	}
	if p.audioFailures, err = opts.Meter.Int64Counter("fateweaver.audio.failures"); err != nil {
		return nil, err
	}
	if p.audioHits, err = opts.Meter.Int64Counter("fateweaver.audio.cache_hits"); err != nil {
		return nil, err
	}
	return p, nil
}

// Respond builds the prompt from the last window of history, calls the
// generator, parses and resolves the reply, then attaches audio. Only an
// empty message is an error; every external failure degrades the result.
func (p *Pipeline) Respond(ctx context.Context, history []conversation.Turn, message string) (Result, error) {
	if strings.TrimSpace(message) == "" {
		return Result{}, ErrEmptyMessage
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.respond")
	defer span.End()

	transcript := conversation.Transcript(conversation.Window(history, p.window))
	promptText := p.composer.Compose(transcript, message)

	raw, err := p.generate(ctx, promptText)
	var reply contract.Reply
	if err != nil {
		p.genFailures.Add(ctx, 1)
		span.RecordError(err)
		p.logger.Error("generation failed", slogError(err))
		reply = contract.Reply{Speaker: conversation.Narrator, Text: ApologyText, Method: MethodUnavailable}
	} else {
		reply = contract.Parse(strings.TrimSpace(raw))
		if reply.Method == contract.MethodFallback {
			p.logger.Warn("generation broke the response contract; narrator fallback", slog.Int("raw_len", len(raw)))
		}
	}

	speaker := contract.ResolveSpeaker(reply.Speaker, p.world)
	if speaker != reply.Speaker && reply.Speaker != "" {
		p.logger.Info("unknown speaker coerced to narrator", slog.String("speaker", reply.Speaker))
	}
	result := Result{
		Speaker:     speaker,
		Text:        reply.Text,
		Location:    contract.ResolveLocation(reply.Location, p.world),
		DisplayLine: speaker + ": " + reply.Text,
		Method:      reply.Method,
	}
	p.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(reply.Method))))
	span.SetAttributes(
		attribute.String("fateweaver.speaker", speaker),
		attribute.String("fateweaver.method", string(reply.Method)),
	)

	if reply.Method != MethodUnavailable {
		p.attachAudio(ctx, &result)
	}
	return result, nil
}

func (p *Pipeline) generate(ctx context.Context, promptText string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "llm.generate")
	defer span.End()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req := p.defaults
	req.Prompt = promptText
	start := time.Now()
	out, err := llm.Collect(ctx, p.generator, req)
	p.genLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", out.PromptTokens),
		attribute.Int("llm.completion_tokens", out.CompletionTokens),
	)
	return out.Text, nil
}

func (p *Pipeline) attachAudio(ctx context.Context, result *Result) {
	if p.audio == nil || result.Text == "" {
		return
	}
	ctx, span := p.tracer.Start(ctx, "audio.ensure")
	defer span.End()

	art, err := p.audio.Ensure(ctx, result.Speaker, result.Text)
	if err != nil {
		if errors.Is(err, audiocache.ErrNoText) {
			return
		}
		p.audioFailures.Add(ctx, 1)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("audio synthesis failed; replying with text only",
			slog.String("speaker", result.Speaker), slogError(err))
		return
	}
	if art.Cached {
		p.audioHits.Add(ctx, 1)
	}
	result.AudioPath = art.Path
	result.AudioCached = art.Cached
	result.AudioDataURI = DataURI(audiocache.MIMEType(art.Format), art.Audio)
}

// DataURI inlines audio for clients that cannot fetch files.
func DataURI(mime string, audio []byte) string {
	if len(audio) == 0 {
		return ""
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(audio)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
