// Command seqkit 准备序列推荐数据集并评估排序结果。
//
//	seqkit prepare  -config dataset.yaml -out ./out [-zstd]
//	seqkit evaluate -config dataset.yaml -ranked ranked.jsonl -truth ./out/test.truth.jsonl
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/rushteam/seqkit/config"
	"github.com/rushteam/seqkit/core"
	"github.com/rushteam/seqkit/eval"
	"github.com/rushteam/seqkit/pipeline"
	"github.com/rushteam/seqkit/pkg/logger"
)

const usage = `usage:
  seqkit prepare  -config <file> -out <dir> [-zstd]
  seqkit evaluate -config <file> -ranked <file> -truth <file>
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch args[0] {
	case "prepare":
		err = prepare(ctx, args[1:], stdout, stderr)
	case "evaluate":
		err = evaluate(args[1:], stdout, stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
		return 2
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "seqkit %s: %v\n", args[0], err)
		if de := core.GetDomainError(err); de != nil && de.Code == core.ErrorCodeInvalidInput {
			return 2
		}
		return 1
	}
	return 0
}

func setup(path string, stderr io.Writer) (*config.Config, zerolog.Logger, error) {
	if path == "" {
		return nil, zerolog.Nop(), errors.New("-config is required")
	}
	cfg, err := config.LoadFromYAML(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}

func prepare(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("prepare", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "dataset config (YAML)")
	out := fs.String("out", "", "output directory")
	compress := fs.Bool("zstd", false, "write zstd compressed JSONL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("-out is required")
	}
	cfg, log, err := setup(*cfgPath, stderr)
	if err != nil {
		return err
	}

	st, err := pipeline.Prepare(ctx, cfg, log)
	if err != nil {
		return err
	}
	files, err := pipeline.Export(*out, st, pipeline.WithCompression(*compress))
	if err != nil {
		return err
	}
	for _, f := range files {
		log.Debug().Str("path", f).Msg("seqkit: written")
	}
	log.Info().
		Int("users", st.Report.Users).
		Int("items", st.Report.Items).
		Int("train", len(st.Split.Train)).
		Int("valid", len(st.Split.Valid)).
		Int("test", len(st.Split.Test)).
		Str("out", *out).
		Msg("seqkit: prepare done")
	return writeJSON(stdout, st.Report)
}

func evaluate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "dataset config (YAML); metrics / topk are read from it")
	rankedPath := fs.String("ranked", "", "model output: JSONL of {user_id, items[, scores, exclude]}")
	truthPath := fs.String("truth", "", "ground truth: JSONL of {user_id, items}")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *rankedPath == "" || *truthPath == "" {
		return errors.New("-ranked and -truth are required")
	}
	cfg, log, err := setup(*cfgPath, stderr)
	if err != nil {
		return err
	}

	ev, err := eval.NewEvaluator(cfg.Metrics, cfg.TopK, eval.WithWorkers(cfg.Workers), eval.WithLogger(log))
	if err != nil {
		return err
	}
	lists, err := readFile(*rankedPath, eval.ReadLists)
	if err != nil {
		return err
	}
	truth, err := readFile(*truthPath, eval.ReadTruth)
	if err != nil {
		return err
	}
	report, err := ev.EvaluateLists(lists, truth)
	if err != nil {
		return err
	}
	return writeJSON(stdout, report)
}

func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	rc, err := eval.Open(path)
	if err != nil {
		return zero, err
	}
	defer rc.Close()
	v, err := read(rc)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
