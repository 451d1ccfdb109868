// Command memsim-trace replays a prerecorded access trace against a
// configured memory system and prints the aggregate statistics.
//
// Usage:
//
//	memsim-trace <config-file> <trace-file> <cycles> [KEY=value ...]
//
// The cycle count is measured in input (CPU) cycles and scaled by
// CPUFreq/CLK to memory cycles; 0 runs the whole trace. Overrides apply
// after the config file is read.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	memsim "github.com/memforge/go-memsim"
	"github.com/memforge/go-memsim/internal/logging"
	"github.com/memforge/go-memsim/internal/trace"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 3 {
		usage()
		os.Exit(1)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logging.SetDefault(logging.NewLogger(logConfig))
	logger := logging.Default()

	configFile := args[0]
	traceFile := args[1]

	inputCycles, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		logger.Error("bad cycle count", "cycles", args[2], "error", err)
		os.Exit(1)
	}

	system, err := memsim.LoadSystem(configFile, "defaultMemory", args[3:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "memsim-trace: %v\n", err)
		os.Exit(1)
	}
	defer system.Close()

	p := system.Params()

	// The trace is issued at the CPU/LLC rate; scale the budget to
	// memory cycles.
	simulateCycles := uint64(0)
	if inputCycles != 0 {
		simulateCycles = uint64(math.Ceil(float64(inputCycles) *
			float64(p.CPUFreq) / float64(p.CLK)))
	}
	logger.Info("simulating", "input_cycles", inputCycles, "memory_cycles", simulateCycles)

	reader, err := trace.OpenReader(traceFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "memsim-trace: %v\n", err)
		os.Exit(1)
	}
	defer reader.Close()

	statsOut := os.Stdout
	if p.StatsFile != "" {
		f, err := os.OpenFile(p.StatsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "memsim-trace: could not open stats file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		statsOut = f
	}

	driver := memsim.NewDriver(system)
	driver.EnablePeriodicStats(p.PeriodicStatsInterval, statsOut)

	if err := driver.RunTrace(reader, simulateCycles); err != nil {
		fmt.Fprintf(os.Stderr, "memsim-trace: %v\n", err)
		os.Exit(1)
	}

	system.PrintStats(statsOut)

	logger.Info("exiting",
		"cycle", system.CurrentCycle(),
		"completed", driver.Completed(),
		"in_flight", driver.Outstanding())
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <config-file> <trace-file> <cycles> [KEY=value ...]\n",
		strings.TrimSuffix(os.Args[0], ".exe"))
}
