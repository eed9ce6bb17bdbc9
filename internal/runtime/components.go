package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/fateweaver/internal/audiocache"
	"github.com/loqalabs/fateweaver/internal/catalog"
	"github.com/loqalabs/fateweaver/internal/config"
	"github.com/loqalabs/fateweaver/internal/llm"
	"github.com/loqalabs/fateweaver/internal/pipeline"
	"github.com/loqalabs/fateweaver/internal/prompt"
	"github.com/loqalabs/fateweaver/internal/tts"
	"github.com/loqalabs/fateweaver/internal/voice"
	"github.com/loqalabs/fateweaver/internal/world"
)

// Components is the wired turn stack shared by every transport.
type Components struct {
	World    *world.Model
	Catalog  *catalog.Catalog
	Voices   *voice.Resolver
	Cache    *audiocache.Cache
	Pipeline *pipeline.Pipeline
	Sessions *pipeline.Sessions
}

// Close releases the catalog.
func (c *Components) Close() error {
	if c == nil || c.Catalog == nil {
		return nil
	}
	return c.Catalog.Close()
}

// NewGenerator builds the configured generation backend.
func NewGenerator(ctx context.Context, cfg config.LLMConfig) (llm.Generator, error) {
	switch cfg.Mode {
	case "gemini":
		return llm.NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model)
	case "ollama":
		return llm.NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return llm.NewExecGenerator(cfg.Command)
	case "mock":
		return llm.NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

// NewSynthesizer builds the configured synthesis backend.
func NewSynthesizer(cfg config.TTSConfig) (tts.Synthesizer, error) {
	switch cfg.Mode {
	case "elevenlabs":
		client := &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
		return tts.NewElevenLabsSynth(cfg.Endpoint, cfg.APIKey, cfg.ModelID, client)
	case "exec":
		return tts.NewExecSynth(cfg.Command, cfg.Format)
	case "mock":
		return tts.NewMockSynth(cfg.Format), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}

// BuildComponents loads the world and wires catalog, voices, audio cache,
// and pipeline around gen. When TTS is disabled only text is produced.
func BuildComponents(ctx context.Context, cfg config.Config, gen llm.Generator, synth tts.Synthesizer, logger *slog.Logger) (*Components, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	model, err := world.Load(cfg.World.CharactersPath, cfg.World.SettingsPath)
	if err != nil {
		return nil, err
	}
	if skipped := model.Skipped(); skipped > 0 {
		logger.Warn("skipped characters without a name", slog.Int("count", skipped))
	}
	logger.Info("world loaded",
		slog.Int("characters", len(model.Names())),
		slog.Int("locations", len(model.LocationIDs())))

	comps := &Components{World: model}

	var audio pipeline.AudioStore
	if cfg.TTS.Enabled && synth != nil {
		cat, err := catalog.Open(ctx, cfg.Catalog, logger.With(slog.String("component", "catalog")))
		if err != nil {
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		comps.Catalog = cat
		comps.Voices = voice.NewResolver(cfg.TTS, model, cat, logger)
		cache, err := audiocache.New(audiocache.Options{
			Directory:     cfg.Cache.Directory,
			Format:        cfg.TTS.Format,
			MemoryEntries: cfg.Cache.MemoryEntries,
			Timeout:       time.Duration(cfg.TTS.TimeoutMS) * time.Millisecond,
			Synth:         synth,
			Voices:        comps.Voices,
			Catalog:       cat,
			Logger:        logger,
		})
		if err != nil {
			cat.Close()
			return nil, err
		}
		comps.Cache = cache
		audio = cache
	}

	p, err := pipeline.New(pipeline.Options{
		Generator:         gen,
		Composer:          prompt.NewComposer(model, cfg.Conversation.MaxCharacterBriefs),
		World:             model,
		Audio:             audio,
		Defaults:          llm.OptionsFromConfig(cfg.LLM),
		Window:            cfg.Conversation.WindowSize,
		GenerationTimeout: time.Duration(cfg.LLM.TimeoutMS) * time.Millisecond,
		Logger:            logger,
	})
	if err != nil {
		comps.Close()
		return nil, err
	}
	comps.Pipeline = p
	comps.Sessions = pipeline.NewSessions(p)
	return comps, nil
}
