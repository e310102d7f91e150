package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gridarena.ai/internal/observerproto"
	"gridarena.ai/internal/sim/arena"
)

func main() {
	var (
		url        = flag.String("url", "ws://127.0.0.1:8080/v1/ws", "observer ws url")
		frameEvery = flag.Int("frame_every", 25, "receive one FRAME per N ticks")
		input      = flag.String("input", "", "send INPUT: \"random\" or \"keys\" (up/down/left/right per stdin line, empty line releases)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// gorilla connections allow one concurrent writer.
	var wmu sync.Mutex
	send := func(v any) {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.WriteJSON(v)
	}

	send(observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		FrameEvery:      *frameEvery,
	})

	sendDir := func(dir string) {
		send(observerproto.InputMsg{Type: observerproto.TypeInput, ProtocolVersion: observerproto.Version, Dir: dir})
	}
	var rng *rand.Rand
	switch *input {
	case "random":
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	case "keys":
		go readKeys(sendDir)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := observerproto.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case observerproto.TypeRoundStart:
			var m observerproto.RoundStartMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			logger.Printf("ROUND_START %d/%d mode=%s seed=%d attempts=%d solvable=%v time_limit=%.1f",
				m.Round, m.Rounds, m.Mode, m.Seed, m.Attempts, m.Solvable, m.TimeLimit)
			fmt.Println(strings.Join(m.Plan.Overlay(m.Arena.Rows), "\n"))

		case observerproto.TypeFrame:
			var m observerproto.FrameMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			agent := "-"
			if m.Agent != nil {
				agent = fmt.Sprintf("(%d,%d) %s x%.2f", m.Agent.Cell.X, m.Agent.Cell.Y, m.Agent.State, m.Agent.SpeedMultiplier)
			}
			logger.Printf("FRAME tick=%d round=%d %s remaining=%.2f collected=%d/%d agent=%s",
				m.Tick, m.Round, m.State, m.Remaining, m.Collected, m.Target, agent)
			if rng != nil && m.Manual {
				sendDir(arena.Dirs[rng.Intn(len(arena.Dirs))].String())
			}

		case observerproto.TypeRoundEnd:
			var m observerproto.RoundEndMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			logger.Printf("ROUND_END %d: %s in %.2fs collected=%d", m.Round, m.Outcome.Cause, m.Outcome.Elapsed, m.Outcome.Collected)

		case observerproto.TypeSessionEnd:
			var m observerproto.SessionEndMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			logger.Printf("SESSION_END %s", m.Report.Summary())
			return
		}
	}
}

func readKeys(sendDir func(string)) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			sendDir("")
			continue
		}
		if d, ok := arena.ParseDir(line); ok {
			sendDir(d.String())
		}
	}
}
