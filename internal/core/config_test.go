package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
; DDR-style single channel part
CHANNELS 1
RANKS 2
BANKS 8   ; eight banks per rank
ROWS 8192
COLS 256

tRCD 9
tCAS 9
CLK 666
CPUFreq 2000

UseRefresh true
QueueModel PerBank
AddressMappingScheme R:RK:BK:CH:C:SA

AddHook RequestTracer
AddHook RequestTracer

StatsFile stats.out
`

func TestConfigParse(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.Parse(strings.NewReader(sampleConfig)))

	if !c.KeyExists("RANKS") {
		t.Fatal("RANKS missing")
	}
	if got := c.GetInt("RANKS"); got != 2 {
		t.Errorf("RANKS = %d, want 2", got)
	}
	if got := c.GetInt("BANKS"); got != 8 {
		t.Errorf("BANKS = %d, want 8 (inline comment should be stripped)", got)
	}
	if !c.GetBool("UseRefresh") {
		t.Error("UseRefresh should parse as true")
	}
	if got := c.GetString("AddressMappingScheme"); got != "R:RK:BK:CH:C:SA" {
		t.Errorf("AddressMappingScheme = %q", got)
	}
	if got := c.GetInt("MissingKey"); got != -1 {
		t.Errorf("missing key = %d, want -1", got)
	}
	if c.GetBool("StatsFile") {
		t.Error("non-boolean value parsed as true")
	}

	hooks := c.Hooks()
	if len(hooks) != 2 || hooks[0] != "RequestTracer" {
		t.Errorf("hooks = %v, want two RequestTracer entries", hooks)
	}
}

func TestConfigOverride(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.Parse(strings.NewReader("RANKS 2\n")))

	c.SetValue("RANKS", "4")
	if got := c.GetInt("RANKS"); got != 4 {
		t.Errorf("RANKS after override = %d, want 4", got)
	}
	c.SetValue("NewKey", "hello")
	if got := c.GetString("NewKey"); got != "hello" {
		t.Errorf("NewKey = %q, want hello", got)
	}
}

func TestConfigClone(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.Parse(strings.NewReader("RANKS 2\nAddHook Foo\n")))

	clone := c.Clone()
	clone.SetValue("RANKS", "8")

	if got := c.GetInt("RANKS"); got != 2 {
		t.Errorf("original mutated by clone: RANKS = %d", got)
	}
	if got := clone.GetInt("RANKS"); got != 8 {
		t.Errorf("clone RANKS = %d, want 8", got)
	}
	if len(clone.Hooks()) != 1 {
		t.Errorf("clone hooks = %v", clone.Hooks())
	}
}

func TestConfigReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mem.config")
	require.NoError(t, os.WriteFile(path, []byte("RANKS 2\n"), 0o644))

	c, err := ReadConfig(path)
	require.NoError(t, err)
	if c.FileName() != path {
		t.Errorf("FileName = %q, want %q", c.FileName(), path)
	}
	if got := c.GetInt("RANKS"); got != 2 {
		t.Errorf("RANKS = %d, want 2", got)
	}

	if _, err := ReadConfig(filepath.Join(dir, "missing.config")); err == nil {
		t.Error("reading a missing file should fail")
	}
}

func TestParamsFromConfig(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.Parse(strings.NewReader(sampleConfig)))

	p := NewParams()
	p.SetParams(c)

	if p.Ranks != 2 || p.Banks != 8 || p.Rows != 8192 {
		t.Errorf("geometry = (%d, %d, %d)", p.Ranks, p.Banks, p.Rows)
	}
	if p.TRCD != 9 {
		t.Errorf("tRCD = %d, want 9", p.TRCD)
	}
	if !p.UseRefresh {
		t.Error("UseRefresh not set")
	}
	if p.WordBytes() != 64 {
		t.Errorf("WordBytes = %d, want 64", p.WordBytes())
	}
	if p.SubArrays() != 1 {
		t.Errorf("SubArrays = %d, want 1 without MATHeight", p.SubArrays())
	}
}

func TestParamsMATHeight(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.Parse(strings.NewReader("ROWS 8192\nMATHeight 1024\n")))

	p := NewParams()
	p.SetParams(c)

	if p.SubArrays() != 8 {
		t.Errorf("SubArrays = %d, want 8", p.SubArrays())
	}
	if p.MATRows() != 1024 {
		t.Errorf("MATRows = %d, want 1024", p.MATRows())
	}
}

func TestParamsDerivedTREFI(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.Parse(strings.NewReader("ROWS 8192\nRefreshRows 4\ntREFW 4096000\n")))

	p := NewParams()
	p.SetParams(c)

	// tREFW / (ROWS / RefreshRows) = 4096000 / 2048
	if p.TREFI != 2000 {
		t.Errorf("derived tREFI = %d, want 2000", p.TREFI)
	}
}

func TestParamsQueueSizeAlias(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.Parse(strings.NewReader("QueueSize 17\n")))

	p := NewParams()
	p.SetParams(c)
	if p.MaxQueue != 17 {
		t.Errorf("MaxQueue via QueueSize = %d, want 17", p.MaxQueue)
	}
}
