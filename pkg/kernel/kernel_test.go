package kernel

import (
	"bytes"
	"encoding/binary"
	"log"
	"strings"
	"testing"
	"time"

	"kernos/pkg/loader"
	"kernos/pkg/mm"
	"kernos/pkg/process"
	"kernos/pkg/syscall"
	"kernos/pkg/timer"
)

func testRegistry() *loader.Registry {
	seg := func(vaddr uint64) []loader.Segment {
		return []loader.Segment{{Vaddr: vaddr, Data: []byte{0x73}, MemSize: mm.PageSize, Perm: mm.PermR | mm.PermX}}
	}
	return loader.NewRegistry(
		&loader.Image{Name: "init", Entry: 0x10000, Segments: seg(0x10000)},
		&loader.Image{Name: "worker", Entry: 0x30000, Segments: seg(0x30000)},
	)
}

func newTestKernel(t *testing.T, cfg Config) *Kernel {
	t.Helper()
	k := New(cfg, testRegistry())
	if err := k.Boot("init"); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	return k
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Frames != 1024 {
		t.Errorf("Frames = %d, want 1024", cfg.Frames)
	}
	if cfg.DefaultPriority != process.DefaultPriority {
		t.Errorf("DefaultPriority = %d, want %d", cfg.DefaultPriority, process.DefaultPriority)
	}
	if cfg.BigStride != process.DefaultBigStride {
		t.Errorf("BigStride = %d, want %d", cfg.BigStride, process.DefaultBigStride)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvFrames, "128")
	t.Setenv(EnvStackPages, "4")
	t.Setenv(EnvTrace, "true")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error = %v", err)
	}
	if cfg.Frames != 128 || cfg.StackPages != 4 || !cfg.Trace {
		t.Errorf("ConfigFromEnv() = %+v, want frames 128 stack 4 trace", cfg)
	}
}

func TestConfigFromEnvInvalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{EnvFrames, "lots"},
		{EnvFrames, "-1"},
		{EnvStackPages, "0"},
		{EnvTrace, "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := ConfigFromEnv(); err == nil {
				t.Errorf("ConfigFromEnv() should fail for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestBoot(t *testing.T) {
	k := New(Config{Frames: 32, Clock: timer.NewManual(0)}, testRegistry())
	if _, ok := k.Current(); ok {
		t.Error("Current() before boot should report no task")
	}
	if err := k.Boot("missing"); err == nil {
		t.Error("Boot(missing) should fail")
	}
	if err := k.Boot("init"); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	if pid, ok := k.Current(); !ok || pid != 0 {
		t.Errorf("Current() = %d, %v, want 0, true", pid, ok)
	}

	st := k.Stats()
	if st.Tasks != 1 || st.FramesTotal != 32 || st.FramesUsed != 3 {
		t.Errorf("Stats() = %+v, want 1 task and 3/32 frames", st)
	}
}

func TestSpawnAndReap(t *testing.T) {
	k := newTestKernel(t, Config{Frames: 64, Clock: timer.NewManual(0)})

	addr, err := k.StackScratch(64)
	if err != nil {
		t.Fatalf("StackScratch() error = %v", err)
	}
	if err := k.WriteUser(addr, []byte("worker\x00")); err != nil {
		t.Fatalf("WriteUser() error = %v", err)
	}
	pid := k.Syscall(syscall.SysSpawn, addr)
	if pid != 1 {
		t.Fatalf("spawn = %d, want 1", pid)
	}

	tasks := k.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("len(Tasks()) = %d, want 2", len(tasks))
	}
	if tasks[1].Name != "worker" || tasks[1].Parent != 0 || tasks[1].Status != process.StatusReady {
		t.Errorf("Tasks()[1] = %+v, want ready worker child of 0", tasks[1])
	}
	if !tasks[0].Current {
		t.Error("init should be current")
	}

	k.Tick()
	if cur, _ := k.Current(); cur != 1 {
		t.Fatalf("Current() after Tick = %d, want 1", cur)
	}
	k.Syscall(syscall.SysExit, 9)

	if got := k.Syscall(syscall.SysWaitPid, uint64(pid), addr); got != pid {
		t.Errorf("waitpid = %d, want %d", got, pid)
	}
	buf, err := k.ReadUser(addr, 4)
	if err != nil {
		t.Fatalf("ReadUser() error = %v", err)
	}
	if code := int32(binary.LittleEndian.Uint32(buf)); code != 9 {
		t.Errorf("exit code = %d, want 9", code)
	}
	if st := k.Stats(); st.Tasks != 1 || st.FramesUsed != 3 {
		t.Errorf("Stats() = %+v, want 1 task and 3 frames", st)
	}
}

func TestTrap(t *testing.T) {
	k := newTestKernel(t, Config{Clock: timer.NewManual(0)})
	k.mu.Lock()
	k.tasks.Current().UpdateTrapContext(func(cx *process.TrapContext) {
		cx.X[process.RegA7] = syscall.SysSetPriority
		cx.X[process.RegA0] = 40
	})
	k.mu.Unlock()

	if !k.Trap() {
		t.Fatal("Trap() = false, want true")
	}
	if tasks := k.Tasks(); tasks[0].Priority != 40 {
		t.Errorf("Priority = %d, want 40", tasks[0].Priority)
	}
}

func TestTraceLogging(t *testing.T) {
	var buf bytes.Buffer
	k := newTestKernel(t, Config{Trace: true, Logger: log.New(&buf, "", 0), Clock: timer.NewManual(0)})
	k.Syscall(syscall.SysYield)

	out := buf.String()
	if !strings.Contains(out, "kernel: booted init") {
		t.Errorf("log = %q, want boot line", out)
	}
	if !strings.Contains(out, "kernel:pid[0] sys_yield") {
		t.Errorf("log = %q, want syscall trace", out)
	}
}

func TestPageQuota(t *testing.T) {
	k := newTestKernel(t, Config{MaxPages: 4, Clock: timer.NewManual(0)})
	if ret := k.Syscall(syscall.SysMmap, 0x80000, 2*mm.PageSize, 3); ret != -1 {
		t.Errorf("mmap over quota = %d, want -1", ret)
	}
	if ret := k.Syscall(syscall.SysMmap, 0x80000, mm.PageSize, 3); ret != 0 {
		t.Errorf("mmap = %d, want 0", ret)
	}
}

func TestInitExit(t *testing.T) {
	clock := timer.NewManual(0)
	k := newTestKernel(t, Config{Clock: clock})
	clock.Advance(time.Second)
	k.Syscall(syscall.SysExit, 2)

	if halted, code := k.Halted(); !halted || code != 2 {
		t.Errorf("Halted() = %v, %d, want true, 2", halted, code)
	}
	if _, err := k.StackScratch(8); err == nil {
		t.Error("StackScratch() with no task should fail")
	}
	if st := k.Stats(); st.FramesUsed != 0 || st.Now != 1000 {
		t.Errorf("Stats() = %+v, want 0 frames used at 1000ms", st)
	}
}
