package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	persistlog "gridarena.ai/internal/persistence/log"
	"gridarena.ai/internal/persistence/snapshot"
	"gridarena.ai/internal/replay"
)

func main() {
	var (
		logPath   = flag.String("log", "", "path to rounds.jsonl.zst")
		arenaPath = flag.String("arena", "", "path to a round .snap.zst to print (optional)")
	)
	flag.Parse()

	if *logPath == "" && *arenaPath == "" {
		fmt.Fprintln(os.Stderr, "missing -log or -arena")
		os.Exit(2)
	}

	if *arenaPath != "" {
		if err := printArena(*arenaPath); err != nil {
			fmt.Fprintln(os.Stderr, "arena:", err)
			os.Exit(1)
		}
	}
	if *logPath == "" {
		return
	}

	l, err := persistlog.ReadFile(*logPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read log:", err)
		os.Exit(1)
	}
	h := l.Header
	fmt.Printf("session %s mode=%s seed=%d rounds=%d/%d step=%.4f realtime=%v\n",
		h.SessionID, h.Genome.Mode, h.Genome.Seed, len(l.Rounds), h.Genome.Rules.Rounds, h.FixedStep, h.Realtime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := replay.Verify(ctx, l)
	if errors.Is(err, replay.ErrManual) {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	for _, m := range res.Mismatches {
		fmt.Fprintln(os.Stderr, "mismatch:", m)
	}
	if !res.OK() {
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d rounds; %s\n", res.Checked, res.Report.Summary())
}

func printArena(path string) error {
	a, err := snapshot.ReadArena(path)
	if err != nil {
		return err
	}
	fmt.Printf("arena v%d session=%s round=%d seed=%d attempts=%d solvable=%v %dx%d cell=%.2f\n",
		a.Header.Version, a.Header.SessionID, a.Header.Round, a.Seed, a.Attempts, a.Solvable, a.Width, a.Height, a.CellSize)
	if err := a.Verify(); err != nil {
		fmt.Printf("digest: MISMATCH (%v)\n", err)
	} else {
		fmt.Printf("digest: %s ok\n", a.Digest)
	}

	var sb strings.Builder
	for _, r := range a.Plan.Overlay(a.Rows) {
		sb.WriteString(r)
		sb.WriteByte('\n')
	}
	fmt.Print(sb.String())
	return nil
}
