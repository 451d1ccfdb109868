package core

// Params is the strongly-typed view of a configuration. Every module that
// needs configuration holds a *Params; the zero-config defaults describe a
// single-channel DDR-style part with 64-byte memory words.
type Params struct {
	// Geometry
	Channels  uint64
	Ranks     uint64
	Banks     uint64
	Rows      uint64
	Cols      uint64
	MATHeight uint64

	// Transfer
	BusWidth uint64
	TBurst   uint64
	Rate     uint64

	// Timing, in memory cycles
	TRCD  uint64
	TCAS  uint64
	TRP   uint64
	TRTP  uint64
	TWR   uint64
	TCWD  uint64
	TRC   uint64
	TRTRS uint64
	TRFC  uint64
	TXP   uint64

	// NVM write model
	TWP       uint64
	MLCLevels uint64
	PauseMode string

	// Refresh
	UseRefresh              bool
	TREFI                   uint64
	TREFW                   uint64
	RefreshRows             uint64
	BanksPerRefresh         uint64
	DelayedRefreshThreshold uint64

	// Frequencies, MHz
	CPUFreq uint64
	CLK     uint64

	// Policy
	AddressMappingScheme string
	Interconnect         string
	MemCtl               string
	Decoder              string
	QueueModel           string
	ScheduleScheme       int
	ClosePage            int
	UsePrecharge         bool
	UseLowPower          bool
	WritePausing         bool
	PowerDownMode        string
	InitPD               bool
	RBSize               uint64

	// Controller limits
	DeadlockTimer       uint64
	MaxQueue            uint64
	StarvationThreshold uint64

	// Plug-ins
	EnduranceModel string
	DataEncoder    string
	FlipNWriteGran uint64

	// Output
	StatsFile string
	DebugLog  string

	// Driver behavior
	PrintPreTrace         bool
	EchoPreTrace          bool
	PreTraceFile          string
	IgnoreData            bool
	IgnoreTraceCycle      bool
	PrintConfig           bool
	PeriodicStatsInterval uint64
}

// NewParams returns the default parameter set.
func NewParams() *Params {
	return &Params{
		Channels:  1,
		Ranks:     1,
		Banks:     8,
		Rows:      8192,
		Cols:      256,
		MATHeight: 0, // 0: one subarray per bank

		BusWidth: 64,
		TBurst:   4,
		Rate:     2,

		TRCD:  10,
		TCAS:  10,
		TRP:   10,
		TRTP:  5,
		TWR:   10,
		TCWD:  5,
		TRC:   40,
		TRTRS: 2,
		TRFC:  100,
		TXP:   4,

		TWP:       12,
		MLCLevels: 1,
		PauseMode: "normal",

		UseRefresh:              false,
		TREFI:                   7800,
		TREFW:                   0,
		RefreshRows:             4,
		BanksPerRefresh:         8,
		DelayedRefreshThreshold: 1,

		CPUFreq: 2000,
		CLK:     666,

		AddressMappingScheme: "R:RK:BK:CH:SA:C",
		Interconnect:         "OnChipBus",
		MemCtl:               "FRFCFS",
		Decoder:              "Default",
		QueueModel:           "PerBank",
		ScheduleScheme:       1,
		ClosePage:            0,
		UsePrecharge:         true,
		UseLowPower:          false,
		WritePausing:         false,
		PowerDownMode:        "FASTEXIT",
		InitPD:               false,
		RBSize:               0, // 0: whole row is one mux group

		DeadlockTimer:       10000,
		MaxQueue:            32,
		StarvationThreshold: 4,

		EnduranceModel: "None",
		DataEncoder:    "None",
		FlipNWriteGran: 32,
	}
}

func (p *Params) setUint(c *Config, key string, dst *uint64) {
	if c.KeyExists(key) {
		if v := c.GetInt(key); v >= 0 {
			*dst = uint64(v)
		}
	}
}

func (p *Params) setInt(c *Config, key string, dst *int) {
	if c.KeyExists(key) {
		if v := c.GetInt(key); v >= 0 {
			*dst = int(v)
		}
	}
}

func (p *Params) setString(c *Config, key string, dst *string) {
	if c.KeyExists(key) {
		*dst = c.GetString(key)
	}
}

func (p *Params) setBool(c *Config, key string, dst *bool) {
	if c.KeyExists(key) {
		*dst = c.GetBool(key)
	}
}

// SetParams overlays values from a configuration onto the defaults.
func (p *Params) SetParams(c *Config) {
	p.setUint(c, "CHANNELS", &p.Channels)
	p.setUint(c, "RANKS", &p.Ranks)
	p.setUint(c, "BANKS", &p.Banks)
	p.setUint(c, "ROWS", &p.Rows)
	p.setUint(c, "COLS", &p.Cols)
	p.setUint(c, "MATHeight", &p.MATHeight)

	p.setUint(c, "BusWidth", &p.BusWidth)
	p.setUint(c, "tBURST", &p.TBurst)
	p.setUint(c, "RATE", &p.Rate)

	p.setUint(c, "tRCD", &p.TRCD)
	p.setUint(c, "tCAS", &p.TCAS)
	p.setUint(c, "tRP", &p.TRP)
	p.setUint(c, "tRTP", &p.TRTP)
	p.setUint(c, "tWR", &p.TWR)
	p.setUint(c, "tCWD", &p.TCWD)
	p.setUint(c, "tRC", &p.TRC)
	p.setUint(c, "tRTRS", &p.TRTRS)
	p.setUint(c, "tRFC", &p.TRFC)
	p.setUint(c, "tXP", &p.TXP)

	p.setUint(c, "tWP", &p.TWP)
	p.setUint(c, "MLCLevels", &p.MLCLevels)
	p.setString(c, "PauseMode", &p.PauseMode)

	p.setBool(c, "UseRefresh", &p.UseRefresh)
	p.setUint(c, "tREFI", &p.TREFI)
	p.setUint(c, "tREFW", &p.TREFW)
	p.setUint(c, "RefreshRows", &p.RefreshRows)
	p.setUint(c, "BanksPerRefresh", &p.BanksPerRefresh)
	p.setUint(c, "DelayedRefreshThreshold", &p.DelayedRefreshThreshold)

	p.setUint(c, "CPUFreq", &p.CPUFreq)
	p.setUint(c, "CLK", &p.CLK)

	p.setString(c, "AddressMappingScheme", &p.AddressMappingScheme)
	p.setString(c, "INTERCONNECT", &p.Interconnect)
	p.setString(c, "MEM_CTL", &p.MemCtl)
	p.setString(c, "Decoder", &p.Decoder)
	p.setString(c, "QueueModel", &p.QueueModel)
	p.setInt(c, "ScheduleScheme", &p.ScheduleScheme)
	p.setInt(c, "ClosePage", &p.ClosePage)
	p.setBool(c, "UsePrecharge", &p.UsePrecharge)
	p.setBool(c, "UseLowPower", &p.UseLowPower)
	p.setBool(c, "WritePausing", &p.WritePausing)
	p.setString(c, "PowerDownMode", &p.PowerDownMode)
	p.setBool(c, "InitPD", &p.InitPD)
	p.setUint(c, "RBSize", &p.RBSize)

	p.setUint(c, "DeadlockTimer", &p.DeadlockTimer)
	p.setUint(c, "MaxQueue", &p.MaxQueue)
	p.setUint(c, "QueueSize", &p.MaxQueue)
	p.setUint(c, "StarvationThreshold", &p.StarvationThreshold)

	p.setString(c, "EnduranceModel", &p.EnduranceModel)
	p.setString(c, "DataEncoder", &p.DataEncoder)
	p.setUint(c, "FlipNWriteGranularity", &p.FlipNWriteGran)

	p.setString(c, "StatsFile", &p.StatsFile)
	p.setString(c, "DebugLog", &p.DebugLog)

	p.setBool(c, "PrintPreTrace", &p.PrintPreTrace)
	p.setBool(c, "EchoPreTrace", &p.EchoPreTrace)
	p.setString(c, "PreTraceFile", &p.PreTraceFile)
	p.setBool(c, "IgnoreData", &p.IgnoreData)
	p.setBool(c, "IgnoreTraceCycle", &p.IgnoreTraceCycle)
	p.setBool(c, "PrintConfig", &p.PrintConfig)
	p.setUint(c, "PeriodicStatsInterval", &p.PeriodicStatsInterval)

	// tREFI may be given directly or derived from the refresh window.
	if !c.KeyExists("tREFI") && p.TREFW != 0 && p.RefreshRows != 0 {
		p.TREFI = p.TREFW / (p.Rows / p.RefreshRows)
	}
}

// SubArrays returns the subarray count per bank implied by MATHeight.
func (p *Params) SubArrays() uint64 {
	if p.MATHeight == 0 || p.MATHeight >= p.Rows {
		return 1
	}
	return p.Rows / p.MATHeight
}

// MATRows returns the rows per subarray.
func (p *Params) MATRows() uint64 {
	if p.MATHeight == 0 || p.MATHeight >= p.Rows {
		return p.Rows
	}
	return p.MATHeight
}

// WordBytes returns the memory word size implied by the transfer
// parameters: busWidth x burstLength x rate / 8.
func (p *Params) WordBytes() uint64 {
	return p.BusWidth * p.TBurst * p.Rate / 8
}

// MuxSize returns the column mux-group size for row-buffer subsetting.
func (p *Params) MuxSize() uint64 {
	if p.RBSize == 0 || p.RBSize > p.Cols {
		return p.Cols
	}
	return p.RBSize
}

// WriteCycles returns the full duration of an iterative NVM write.
func (p *Params) WriteCycles() uint64 {
	levels := p.MLCLevels
	if levels == 0 {
		levels = 1
	}
	return levels * p.TWP
}
