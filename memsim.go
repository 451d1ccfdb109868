// Package memsim provides the main API for building and driving a
// cycle-accurate main-memory subsystem simulation: a tree of modules
// rooted at a memory system, with per-channel memory controllers
// scheduling explicit device commands against timing-accurate rank, bank
// and subarray models.
package memsim

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/memforge/go-memsim/internal/core"
	"github.com/memforge/go-memsim/internal/ctrl"
	"github.com/memforge/go-memsim/internal/dimm"
	"github.com/memforge/go-memsim/internal/encoder"
	"github.com/memforge/go-memsim/internal/endurance"
	"github.com/memforge/go-memsim/internal/logging"
	"github.com/memforge/go-memsim/internal/stats"
	"github.com/memforge/go-memsim/internal/trace"
)

// System is the top-level memory system: it owns the shared event queue,
// the stats registry and the channel subtrees, translates incoming
// physical addresses and routes each transaction to its channel
// controller.
type System struct {
	core.BaseModule

	config     *core.Config
	params     *core.Params
	translator *core.AddressTranslator

	controllers    []*ctrl.Controller
	channelConfigs []*core.Config

	eventQueue  *core.EventQueue
	globalQueue *core.GlobalEventQueue
	registry    *stats.Registry

	checkpoints []namedCheckpoint

	preTraceWriter *trace.Writer
	preTraceFile   *os.File

	totalReadRequests  uint64
	totalWriteRequests uint64
}

// Checkpointer is implemented by components carrying persistent state
// (endurance maps, encoder inversion sets).
type Checkpointer interface {
	SaveCheckpoint(dir string) error
	RestoreCheckpoint(dir string) error
}

type namedCheckpoint struct {
	name string
	cp   Checkpointer
}

// NewSystem builds the full module tree described by the configuration.
// The returned system is ready to accept requests once attached to a
// parent (see Driver) and driven through its global event queue.
func NewSystem(config *core.Config, name string) (*System, error) {
	if name == "" {
		name = "defaultMemory"
	}

	params := core.NewParams()
	params.SetParams(config)

	s := &System{
		config:      config,
		params:      params,
		eventQueue:  core.NewEventQueue(),
		globalQueue: core.NewGlobalEventQueue(),
		registry:    stats.NewRegistry(),
	}
	s.Init(s, name)
	s.SetEventQueue(s.eventQueue)
	s.SetStats(s.registry)

	if params.DebugLog != "" {
		f, err := os.OpenFile(params.DebugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, WrapError("NewSystem", ErrCodeConfig, err)
		}
		logging.SetDefault(logging.NewLogger(&logging.Config{
			Level:  logging.LevelDebug,
			Output: f,
		}))
	}

	translator, err := buildTranslator(params, core.ChannelField)
	if err != nil {
		return nil, WrapError("NewSystem", ErrCodeConfig, err)
	}
	s.translator = translator
	s.SetDecoder(translator)

	s.globalQueue.SetFrequency(float64(params.CPUFreq) * 1e6)
	s.globalQueue.AddSystem(s, s.eventQueue, float64(params.CLK)*1e6)

	if err := s.buildChannels(); err != nil {
		return nil, err
	}

	if err := s.createHooks(); err != nil {
		return nil, err
	}

	if params.PrintPreTrace || params.EchoPreTrace {
		if err := s.openPreTracer(); err != nil {
			return nil, err
		}
	}

	s.RegisterStats()

	for _, c := range s.controllers {
		c.StartSchedulers()
	}

	if params.PrintConfig {
		config.Print(os.Stdout)
	}

	return s, nil
}

// LoadSystem reads a configuration file, applies KEY=value overrides and
// builds the system.
func LoadSystem(configPath, name string, overrides []string) (*System, error) {
	config, err := core.ReadConfig(configPath)
	if err != nil {
		return nil, WrapError("LoadSystem", ErrCodeConfig, err)
	}

	for _, pair := range overrides {
		for i := 0; i < len(pair); i++ {
			if pair[i] == '=' {
				config.SetValue(pair[:i], pair[i+1:])
				break
			}
		}
	}

	return NewSystem(config, name)
}

// buildTranslator derives the divider translator from the geometry.
func buildTranslator(p *core.Params, defaultField core.TranslationField) (*core.AddressTranslator, error) {
	rows := p.MATRows()
	subarrays := p.SubArrays()

	method := &core.TranslationMethod{}
	method.SetBitWidths(core.Log2(rows), core.Log2(p.Cols), core.Log2(p.Banks),
		core.Log2(p.Ranks), core.Log2(p.Channels), core.Log2(subarrays))
	method.SetCount(rows, p.Cols, p.Banks, p.Ranks, p.Channels, subarrays)
	if err := method.SetAddressMappingScheme(p.AddressMappingScheme); err != nil {
		return nil, err
	}

	at := core.NewAddressTranslator()
	at.SetTranslationMethod(method)
	at.SetBusWidth(uint(p.BusWidth))
	at.SetBurstLength(uint(p.TBurst * p.Rate))
	at.SetDefaultField(defaultField)
	return at, nil
}

// channelConfig resolves the per-channel override file, relative to the
// parent configuration's directory when the path is not absolute.
func (s *System) channelConfig(channel uint64) (*core.Config, error) {
	conf := s.config.Clone()

	key := fmt.Sprintf("CONFIG_CHANNEL%d", channel)
	if path := s.config.GetString(key); path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(s.config.FileName()), path)
		}
		s.Logger().Info("reading channel config file", "channel", channel, "path", path)
		if err := conf.Read(path); err != nil {
			return nil, WrapError("channelConfig", ErrCodeConfig, err)
		}
	}
	return conf, nil
}

// buildChannels creates one controller subtree per channel.
func (s *System) buildChannels() error {
	for ch := uint64(0); ch < s.params.Channels; ch++ {
		conf, err := s.channelConfig(ch)
		if err != nil {
			return err
		}
		s.channelConfigs = append(s.channelConfigs, conf)

		chParams := core.NewParams()
		chParams.SetParams(conf)

		name := fmt.Sprintf("%s.channel%d.%s", s.Name(), ch, chParams.MemCtl)
		if chParams.MemCtl != "FRFCFS" {
			return NewError("buildChannels", ErrCodeConfig,
				fmt.Sprintf("unknown memory controller %q", chParams.MemCtl))
		}
		controller := ctrl.NewController(chParams, ch, name)

		// The controller retranslates with its own decoder so deeper
		// fields may differ per channel; the channel field stays as
		// routed.
		mcTranslator, err := buildTranslator(chParams, core.NoField)
		if err != nil {
			return WrapError("buildChannels", ErrCodeConfig, err)
		}
		controller.SetDecoder(mcTranslator)

		if chParams.Interconnect != "OnChipBus" {
			return NewError("buildChannels", ErrCodeConfig,
				fmt.Sprintf("unknown interconnect %q", chParams.Interconnect))
		}

		bus := dimm.NewBus(chParams, fmt.Sprintf("%s.bus", name))
		controller.AddChild(bus)

		if err := s.buildRanks(bus, chParams, name); err != nil {
			return err
		}

		s.AddChild(controller)
		s.controllers = append(s.controllers, controller)
	}

	// Share the clock and registry across the whole tree.
	s.wire(core.Module(s))
	return nil
}

// buildRanks populates a channel's device tree.
func (s *System) buildRanks(bus *dimm.Bus, p *core.Params, channelName string) error {
	for rk := uint64(0); rk < p.Ranks; rk++ {
		rank := dimm.NewRank(p, rk, fmt.Sprintf("%s.rank%d", channelName, rk))
		bus.AddRank(rank)

		for bk := uint64(0); bk < p.Banks; bk++ {
			bank := dimm.NewBank(p, rk, bk, fmt.Sprintf("%s.bank%d", rank.Name(), bk))
			rank.AddBank(bank)

			for sa := uint64(0); sa < p.SubArrays(); sa++ {
				sub := dimm.NewSubArray(p, rk, bk, sa,
					fmt.Sprintf("%s.subarray%d", bank.Name(), sa))

				enc, err := encoder.New(p.DataEncoder, p)
				if err != nil {
					return WrapError("buildRanks", ErrCodeConfig, err)
				}
				if enc != nil {
					sub.SetEncoder(enc)
					enc.RegisterStats(s.registry, sub.Name()+".")
					if cp, ok := enc.(Checkpointer); ok {
						s.checkpoints = append(s.checkpoints, namedCheckpoint{sub.Name(), cp})
					}
				}

				life := uint64(0)
				if s.config.KeyExists("EnduranceLife") {
					life = uint64(s.config.GetInt("EnduranceLife"))
				}
				end, err := endurance.New(p.EnduranceModel, p, life)
				if err != nil {
					return WrapError("buildRanks", ErrCodeConfig, err)
				}
				if end != nil {
					sub.SetEnduranceModel(end)
					end.RegisterStats(s.registry, sub.Name()+".")
					if cp, ok := end.(Checkpointer); ok {
						s.checkpoints = append(s.checkpoints, namedCheckpoint{sub.Name(), cp})
					}
				}

				bank.AddSubArray(sub)
			}
		}
	}
	return nil
}

// wire pushes the shared event queue and registry down the subtree.
func (s *System) wire(m core.Module) {
	m.SetEventQueue(s.eventQueue)
	m.SetStats(s.registry)
	for _, child := range m.Children() {
		s.wire(child)
	}
}

// createHooks instantiates the configured hook chain on each controller.
func (s *System) createHooks() error {
	for _, hookName := range s.config.Hooks() {
		switch hookName {
		case "RequestTracer":
			out := io.Writer(os.Stderr)
			if s.params.DebugLog != "" {
				f, err := os.OpenFile(s.params.DebugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return WrapError("createHooks", ErrCodeConfig, err)
				}
				out = f
			}
			for _, c := range s.controllers {
				tracer := trace.NewTracer(fmt.Sprintf("hook.RequestTracer.channel%d", c.ChannelID()), out)
				tracer.SetEventQueue(s.eventQueue)
				c.AddHook(tracer)
			}
		default:
			s.Logger().Warn("could not create hook", "name", hookName)
		}
	}
	return nil
}

// openPreTracer prepares the incoming-transaction trace.
func (s *System) openPreTracer() error {
	var out io.Writer
	if s.params.PrintPreTrace {
		path := s.params.PreTraceFile
		if path == "" {
			path = s.Name() + ".pretrace"
		}
		f, err := os.Create(path)
		if err != nil {
			return WrapError("openPreTracer", ErrCodeConfig, err)
		}
		s.preTraceFile = f
		out = f
	} else {
		out = io.Discard
	}

	s.preTraceWriter = trace.NewWriter(out)
	if s.params.EchoPreTrace {
		s.preTraceWriter.SetEcho(os.Stdout)
	}
	return nil
}

func (s *System) printPreTrace(req *core.Request) {
	if s.preTraceWriter == nil {
		return
	}
	s.preTraceWriter.WriteRequest(s.eventQueue.CurrentCycle(), req)
}

// Params returns the typed top-level parameters.
func (s *System) Params() *core.Params {
	return s.params
}

// Config returns the raw configuration.
func (s *System) Config() *core.Config {
	return s.config
}

// Registry returns the stats registry.
func (s *System) Registry() *stats.Registry {
	return s.registry
}

// LocalEventQueue returns the memory-clock event queue.
func (s *System) LocalEventQueue() *core.EventQueue {
	return s.eventQueue
}

// GlobalQueue returns the reference-clock coordinator.
func (s *System) GlobalQueue() *core.GlobalEventQueue {
	return s.globalQueue
}

// CurrentCycle returns the memory cycle count.
func (s *System) CurrentCycle() uint64 {
	return s.eventQueue.CurrentCycle()
}

// IssueCommand translates and routes one transaction. Returns false when
// the target controller exerts backpressure.
func (s *System) IssueCommand(req *core.Request) bool {
	if s.config == nil {
		return false
	}

	s.translator.TranslateRequest(req)

	ok := s.BaseModule.IssueCommand(req)
	if ok {
		if req.Type.IsReadOp() {
			s.totalReadRequests++
		} else if req.Type.IsWriteOp() {
			s.totalWriteRequests++
		}
		s.printPreTrace(req)
	}
	return ok
}

// IssueAtomic runs the functional, untimed path.
func (s *System) IssueAtomic(req *core.Request) bool {
	if s.config == nil {
		return false
	}

	s.translator.TranslateRequest(req)

	ok := s.BaseModule.IssueAtomic(req)
	if ok {
		if req.Type.IsReadOp() {
			s.totalReadRequests++
		} else if req.Type.IsWriteOp() {
			s.totalWriteRequests++
		}
	}
	return ok
}

// IsIssuable asks the target channel whether it can accept the request.
func (s *System) IsIssuable(req *core.Request, reason *core.FailReason) bool {
	if !req.Address.Translated {
		s.translator.TranslateRequest(req)
	}
	return s.BaseModule.IsIssuable(req, reason)
}

// Cycle is a no-op: the event queue drives all activity below.
func (s *System) Cycle(uint64) {}

// RegisterStats publishes the system counters and descends.
func (s *System) RegisterStats() {
	prefix := s.Name() + "."
	s.registry.AddStat(prefix+"totalReadRequests", &s.totalReadRequests, "")
	s.registry.AddStat(prefix+"totalWriteRequests", &s.totalWriteRequests, "")

	for _, c := range s.controllers {
		c.RegisterStats()
	}
}

// CalculateStats finalizes derived statistics before a dump.
func (s *System) CalculateStats() {
	for _, c := range s.controllers {
		c.CalculateStats()
	}
}

// PrintStats finalizes and dumps every counter.
func (s *System) PrintStats(w io.Writer) {
	s.CalculateStats()
	s.registry.PrintAll(w)
}

// Close releases output files held by the system.
func (s *System) Close() error {
	if s.preTraceFile != nil {
		return s.preTraceFile.Close()
	}
	return nil
}

var _ core.Module = (*System)(nil)
