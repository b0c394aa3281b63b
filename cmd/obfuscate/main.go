// Command obfuscate trains a Markov model on a corpus and uses it to
// obfuscate or deobfuscate a file, optionally persisting the trained model
// so later invocations can skip retraining.
package main

import (
	"bytes"
	"compress/zlib"
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cylance/MarkovObfuscate/internal/codec"
	"github.com/cylance/MarkovObfuscate/internal/formatter"
	"github.com/cylance/MarkovObfuscate/internal/platform/config"
	"github.com/cylance/MarkovObfuscate/internal/platform/logger"
	"github.com/cylance/MarkovObfuscate/internal/platform/metrics"
	"github.com/cylance/MarkovObfuscate/internal/store"
)

func main() {
	format := flag.String("format", "book", "corpus format: book, lyrics, or binary")
	deobfuscate := flag.Bool("d", false, "deobfuscate instead of obfuscate")
	base := flag.Int("base", 64, "alphabet size B, 2 <= B <= 256")
	dbPath := flag.String("db", "", "optional sqlite database path for model persistence")
	modelName := flag.String("model", "", "model name to load/save in --db (required with --db)")
	flag.Parse()

	log := logger.NewLogger()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: obfuscate [flags] <corpus-path> <data-path>")
		os.Exit(2)
	}
	corpusPath, dataPath := flag.Arg(0), flag.Arg(1)

	if *dbPath != "" && *modelName == "" {
		fmt.Fprintln(os.Stderr, "obfuscate: --model is required with --db")
		os.Exit(2)
	}

	fmtr, err := formatterFor(*format)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	model, err := loadOrTrain(*base, fmtr, *format, corpusPath, *dbPath, *modelName, log)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	data, err := os.ReadFile(dataPath)
	if err != nil {
		log.Error("failed to read data file: " + err.Error())
		os.Exit(1)
	}

	if *deobfuscate {
		if err := runDeobfuscate(model, data, os.Stdout); err != nil {
			log.Error(err.Error())
			os.Exit(1)
		}
		return
	}
	if err := runObfuscate(model, data, os.Stdout); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func formatterFor(name string) (formatter.Formatter, error) {
	switch name {
	case "book", "":
		return formatter.Default{}, nil
	case "lyrics":
		return formatter.Lyrics{}, nil
	case "binary":
		return formatter.Binary{}, nil
	default:
		return nil, fmt.Errorf("unknown format %q", name)
	}
}

// loadOrTrain returns a trained model, preferring a persisted record in
// --db (when given) over retraining from the corpus file.
func loadOrTrain(base int, fmtr formatter.Formatter, formatName, corpusPath, dbPath, modelName string, log *logger.Logger) (*codec.Model, error) {
	if dbPath != "" && modelName != "" {
		db, err := store.InitSQLite(dbPath, config.DefaultConfig())
		if err != nil {
			return nil, err
		}
		defer db.Close()

		repo := store.NewSQLiteModelRepository(db)
		ctx := context.Background()
		rec, err := repo.Load(ctx, modelName)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			log.Info(fmt.Sprintf("loaded model %q (base %d, %s tokens)", modelName, rec.Base, humanize.Comma(int64(rec.TokenCount))))
			return modelFromRecord(rec, fmtr)
		}

		model, err := trainModel(base, fmtr, corpusPath, log)
		if err != nil {
			return nil, err
		}
		err = persistModel(ctx, repo, modelName, formatName, model)
		metrics.Get().RecordModelPersisted(err)
		if err != nil {
			log.Warn("failed to persist trained model: " + err.Error())
		}
		return model, nil
	}

	return trainModel(base, fmtr, corpusPath, log)
}

func trainModel(base int, fmtr formatter.Formatter, corpusPath string, log *logger.Logger) (*codec.Model, error) {
	corpus, err := os.ReadFile(corpusPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}

	model, err := codec.NewModel(base, fmtr)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	model.LearnBook(string(corpus))
	log.Info(fmt.Sprintf("trained on %s of corpus in %s", humanize.Bytes(uint64(len(corpus))), time.Since(start)))

	return model, nil
}

func modelFromRecord(rec *store.ModelRecord, fmtr formatter.Formatter) (*codec.Model, error) {
	model, err := codec.NewModel(rec.Base, fmtr)
	if err != nil {
		return nil, err
	}
	edges := make([]codec.Edge, len(rec.Edges))
	for i, e := range rec.Edges {
		edges[i] = codec.Edge{From: e.From, To: e.To, Count: e.Count}
	}
	model.LoadEdges(edges)
	return model, nil
}

func persistModel(ctx context.Context, repo store.ModelRepository, name, formatName string, model *codec.Model) error {
	edges := model.Edges()
	rows := make([]store.EdgeRow, len(edges))
	tokens := make(map[string]struct{}, len(edges))
	for i, e := range edges {
		rows[i] = store.EdgeRow{From: e.From, To: e.To, Count: e.Count}
		tokens[e.From] = struct{}{}
		tokens[e.To] = struct{}{}
	}
	return repo.Save(ctx, store.ModelRecord{
		Name:       name,
		Base:       model.Base(),
		Formatter:  formatName,
		TokenCount: len(tokens),
		TrainedAt:  time.Now(),
		Edges:      rows,
	})
}

func runObfuscate(model *codec.Model, data []byte, w io.Writer) error {
	var compressed bytes.Buffer
	zw, err := zlib.NewWriterLevel(&compressed, zlib.BestCompression)
	if err != nil {
		return err
	}
	if _, err := zw.Write(data); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now()
	encoded, err := model.Obfuscate(compressed.Bytes(), rng)
	// Obfuscate does not report how many times it restarted, so the retry
	// count recorded here is always zero.
	metrics.Get().RecordEncode(time.Since(start), 0, err)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, encoded)
	return err
}

func runDeobfuscate(model *codec.Model, data []byte, w io.Writer) error {
	start := time.Now()
	compressed, err := model.Deobfuscate(string(data))
	metrics.Get().RecordDecode(time.Since(start), err)
	if err != nil {
		return err
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return err
	}
	defer zr.Close()
	_, err = io.Copy(w, zr)
	return err
}
