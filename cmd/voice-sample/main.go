package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/loqalabs/fateweaver/internal/audiocache"
	"github.com/loqalabs/fateweaver/internal/catalog"
	"github.com/loqalabs/fateweaver/internal/config"
	"github.com/loqalabs/fateweaver/internal/conversation"
	"github.com/loqalabs/fateweaver/internal/runtime"
	"github.com/loqalabs/fateweaver/internal/tts"
	"github.com/loqalabs/fateweaver/internal/voice"
	"github.com/loqalabs/fateweaver/internal/world"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath string
		envPath    string
		charsPath  string
		outDir     string
		seed       int64
		verbose    bool
	)
	speakCmd := flag.NewFlagSet("speak", flag.ExitOnError)
	speakCmd.StringVar(&configPath, "config", "fateweaver.yaml", "Path to configuration file")
	speakCmd.StringVar(&envPath, "env", ".env", "Path to dotenv file")
	speakCmd.StringVar(&charsPath, "characters", "", "Override path to characters.json")
	speakCmd.StringVar(&outDir, "out", "", "Override audio output directory")
	speakCmd.Int64Var(&seed, "seed", 0, "Random seed for reproducible line selection (0 picks one)")
	speakCmd.BoolVar(&verbose, "v", false, "Log progress to stderr")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'speak <name|index>' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "speak":
		speakCmd.Parse(os.Args[2:])
		if speakCmd.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: voice-sample speak [flags] <name|index>")
			os.Exit(2)
		}
		logOut := io.Discard
		if verbose {
			logOut = os.Stderr
		}
		logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelInfo}))

		if err := config.LoadEnvFile(envPath); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		if charsPath != "" {
			cfg.World.CharactersPath = charsPath
		}
		if outDir != "" {
			cfg.Cache.Directory = outDir
		}
		if seed == 0 {
			seed = time.Now().UnixNano()
		}

		path, line, err := speak(context.Background(), cfg, speakCmd.Arg(0), rand.New(rand.NewSource(seed)), logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		fmt.Println("Audio saved to:", path)
		fmt.Println("Line used:", line)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

// speak voices a random directional line for one character through the
// same cache the daemon uses.
func speak(ctx context.Context, cfg config.Config, target string, rng *rand.Rand, logger *slog.Logger) (string, string, error) {
	model, err := world.Load(cfg.World.CharactersPath, "")
	if err != nil {
		return "", "", err
	}
	name, err := resolveTarget(model, target)
	if err != nil {
		return "", "", err
	}

	synth, err := runtime.NewSynthesizer(cfg.TTS)
	if err != nil {
		return "", "", err
	}
	cat, err := catalog.Open(ctx, cfg.Catalog, logger)
	if err != nil {
		return "", "", err
	}
	defer cat.Close()

	cache, err := audiocache.New(audiocache.Options{
		Directory: cfg.Cache.Directory,
		Format:    cfg.TTS.Format,
		Timeout:   time.Duration(cfg.TTS.TimeoutMS) * time.Millisecond,
		Synth:     synth,
		Voices:    voice.NewResolver(cfg.TTS, model, cat, logger),
		Catalog:   cat,
		Logger:    logger,
	})
	if err != nil {
		return "", "", err
	}

	line := tts.RandomDirectionalLine(rng)
	art, err := cache.Ensure(ctx, name, line)
	if err != nil {
		return "", "", err
	}
	return art.Path, line, nil
}

// resolveTarget accepts a character name, the narrator, or a zero-based
// index into the roster.
func resolveTarget(model *world.Model, target string) (string, error) {
	if target == conversation.Narrator || model.HasCharacter(target) {
		return target, nil
	}
	if idx, err := strconv.Atoi(target); err == nil {
		if ch, ok := model.CharacterAt(idx); ok {
			return ch.Name, nil
		}
		return "", fmt.Errorf("character index %d out of range (have %d)", idx, len(model.Names()))
	}
	return "", errors.New("unknown character " + strconv.Quote(target))
}
