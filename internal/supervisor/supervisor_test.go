package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/tsangwailam/mcclaw/internal/registry"
)

// fakeWorld simulates the processes and sockets of one service port.
type fakeWorld struct {
	mu sync.Mutex

	portPIDs    []int
	relatedPIDs []int
	alive       map[int]bool
	immortal    map[int]bool
	killErr     map[int]error
	killed      []int

	healthy        bool
	healthyAfter   int // probes after spawn before turning healthy, -1 never
	probes         int
	spawnedPID     int
	servingPID     int
	spawnErr       error
	spawns         int
	locatorLookups int
}

func newWorld() *fakeWorld {
	return &fakeWorld{alive: map[int]bool{}, immortal: map[int]bool{}, killErr: map[int]error{}, healthyAfter: -1}
}

func (w *fakeWorld) FindProcessesOnPort(ctx context.Context, port int) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.locatorLookups++
	return slices.Clone(w.portPIDs)
}

func (w *fakeWorld) FindRelatedProcesses(ctx context.Context, port int) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.relatedPIDs)
}

func (w *fakeWorld) IsHealthy(ctx context.Context, port int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.probes++
	if !w.healthy && w.spawns > 0 && w.healthyAfter >= 0 {
		w.healthyAfter--
		if w.healthyAfter < 0 {
			w.healthy = true
			w.portPIDs = []int{w.servingPID}
			w.alive[w.servingPID] = true
		}
	}
	return w.healthy
}

func (w *fakeWorld) Alive(pid int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive[pid]
}

func (w *fakeWorld) Kill(pid int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.killed = append(w.killed, pid)
	if err := w.killErr[pid]; err != nil {
		return err
	}
	if w.immortal[pid] {
		return nil
	}
	if !w.alive[pid] && !slices.Contains(w.portPIDs, pid) && !slices.Contains(w.relatedPIDs, pid) {
		return errors.New("no such process")
	}
	delete(w.alive, pid)
	w.portPIDs = slices.DeleteFunc(w.portPIDs, func(p int) bool { return p == pid })
	w.relatedPIDs = slices.DeleteFunc(w.relatedPIDs, func(p int) bool { return p == pid })
	if len(w.portPIDs) == 0 {
		w.healthy = false
	}
	return nil
}

func (w *fakeWorld) Spawn(ctx context.Context, port int) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.spawnErr != nil {
		return 0, w.spawnErr
	}
	w.spawns++
	w.alive[w.spawnedPID] = true
	return w.spawnedPID, nil
}

type memRegistry struct {
	entry       registry.Entry
	defaultPort int
	saves       []registry.Entry
	clears      int
}

func (r *memRegistry) Save(pid, port int) error {
	r.entry = registry.Entry{PID: pid, Port: port}
	r.saves = append(r.saves, r.entry)
	return nil
}

func (r *memRegistry) Load() registry.Entry {
	e := r.entry
	if e.Port == 0 {
		e.Port = r.defaultPort
	}
	return e
}

func (r *memRegistry) Clear() error {
	r.entry = registry.Entry{}
	r.clears++
	return nil
}

func newTestSupervisor(w *fakeWorld, reg *memRegistry) (*Supervisor, *[]time.Duration) {
	var sleeps []time.Duration
	s := New(Config{
		Name:      "daemon",
		Registry:  reg,
		Locator:   w,
		Prober:    w,
		Processes: w,
		Spawner:   w,
		Options:   DefaultOptions(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return ctx.Err()
		},
	})
	return s, &sleeps
}

func TestStartWhenHealthyIsNoop(t *testing.T) {
	w := newWorld()
	w.healthy = true
	w.portPIDs = []int{4242}
	w.relatedPIDs = []int{4243}
	reg := &memRegistry{entry: registry.Entry{PID: 4242, Port: 3101}}
	s, _ := newTestSupervisor(w, reg)

	result, err := s.Start(context.Background(), 3101)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !result.AlreadyRunning {
		t.Error("expected AlreadyRunning")
	}
	if result.PID != 4242 {
		t.Errorf("expected pid 4242, got %d", result.PID)
	}
	if len(w.killed) != 0 {
		t.Errorf("expected no kills, got %v", w.killed)
	}
	if w.spawns != 0 {
		t.Errorf("expected no spawn, got %d", w.spawns)
	}
	if len(reg.saves) != 0 {
		t.Errorf("expected registry untouched, got saves %v", reg.saves)
	}
}

func TestStartResolvesServingPID(t *testing.T) {
	w := newWorld()
	w.spawnedPID = 100
	w.servingPID = 101
	w.healthyAfter = 2
	reg := &memRegistry{defaultPort: 3101}
	s, sleeps := newTestSupervisor(w, reg)

	result, err := s.Start(context.Background(), 3101)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if result.PID != 101 {
		t.Errorf("expected serving pid 101, got %d", result.PID)
	}

	want := []registry.Entry{{PID: 100, Port: 3101}, {PID: 101, Port: 3101}}
	if !reflect.DeepEqual(reg.saves, want) {
		t.Errorf("expected registry saves %v, got %v", want, reg.saves)
	}
	if got := reg.Load(); got.PID != 101 {
		t.Errorf("expected registry pid 101, got %d", got.PID)
	}
	// Three poll intervals: two unhealthy probes then the healthy one
	if len(*sleeps) != 3 {
		t.Errorf("expected 3 sleeps, got %v", *sleeps)
	}
}

func TestStartKillsStrays(t *testing.T) {
	w := newWorld()
	w.portPIDs = []int{50}
	w.relatedPIDs = []int{51, 50}
	w.alive[50] = true
	w.alive[51] = true
	w.spawnedPID = 60
	w.servingPID = 60
	w.healthyAfter = 0
	reg := &memRegistry{defaultPort: 3101}
	s, sleeps := newTestSupervisor(w, reg)

	result, err := s.Start(context.Background(), 3101)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !reflect.DeepEqual(result.Killed, []int{50, 51}) {
		t.Errorf("expected strays [50 51] killed, got %v", result.Killed)
	}
	if (*sleeps)[0] != time.Second {
		t.Errorf("expected settle wait after kills, got %v", (*sleeps)[0])
	}
	if result.PID != 60 {
		t.Errorf("expected pid 60, got %d", result.PID)
	}
}

func TestStartIgnoresKillFailures(t *testing.T) {
	w := newWorld()
	w.relatedPIDs = []int{77}
	w.killErr[77] = errors.New("operation not permitted")
	w.spawnedPID = 80
	w.servingPID = 80
	w.healthyAfter = 0
	reg := &memRegistry{defaultPort: 3101}
	s, _ := newTestSupervisor(w, reg)

	result, err := s.Start(context.Background(), 3101)
	if err != nil {
		t.Fatalf("Start should survive kill failures, got %v", err)
	}
	if len(result.Killed) != 0 {
		t.Errorf("expected no successful kills, got %v", result.Killed)
	}
	if result.PID != 80 {
		t.Errorf("expected pid 80, got %d", result.PID)
	}
}

func TestStartTimeout(t *testing.T) {
	w := newWorld()
	w.spawnedPID = 100
	reg := &memRegistry{defaultPort: 3101}
	s, _ := newTestSupervisor(w, reg)

	_, err := s.Start(context.Background(), 3101)
	if !errors.Is(err, ErrStartTimeout) {
		t.Fatalf("expected ErrStartTimeout, got %v", err)
	}
	// One probe before spawning plus one per attempt
	if w.probes != 1+30 {
		t.Errorf("expected 31 probes, got %d", w.probes)
	}
	if got := reg.Load(); got.PID != 100 {
		t.Errorf("expected provisional registry pid 100 to remain, got %d", got.PID)
	}
}

func TestStartSpawnFailure(t *testing.T) {
	w := newWorld()
	w.spawnErr = errors.New("exec format error")
	reg := &memRegistry{defaultPort: 3101}
	s, _ := newTestSupervisor(w, reg)

	if _, err := s.Start(context.Background(), 3101); err == nil {
		t.Fatal("expected spawn error")
	}
	if len(reg.saves) != 0 {
		t.Errorf("expected no registry writes, got %v", reg.saves)
	}
}

func TestStopWhenNothingRunning(t *testing.T) {
	w := newWorld()
	reg := &memRegistry{entry: registry.Entry{PID: 999, Port: 3101}}
	s, sleeps := newTestSupervisor(w, reg)

	result, err := s.Stop(context.Background(), 3101)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !result.AlreadyStopped {
		t.Error("expected AlreadyStopped")
	}
	if reg.clears != 1 {
		t.Errorf("expected registry cleared once, got %d", reg.clears)
	}
	if len(*sleeps) != 0 {
		t.Errorf("expected no waiting, got %v", *sleeps)
	}
}

func TestStopKillsEverything(t *testing.T) {
	w := newWorld()
	w.healthy = true
	w.portPIDs = []int{200}
	w.relatedPIDs = []int{201}
	w.alive = map[int]bool{200: true, 201: true, 150: true}
	reg := &memRegistry{entry: registry.Entry{PID: 150, Port: 3101}}
	s, _ := newTestSupervisor(w, reg)

	result, err := s.Stop(context.Background(), 3101)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !reflect.DeepEqual(result.Killed, []int{150, 200, 201}) {
		t.Errorf("expected [150 200 201] killed, got %v", result.Killed)
	}
	if reg.clears != 1 {
		t.Errorf("expected registry cleared, got %d clears", reg.clears)
	}
}

func TestStopSkipsDeadRegistryPID(t *testing.T) {
	w := newWorld()
	w.healthy = true
	w.portPIDs = []int{200}
	w.alive = map[int]bool{200: true}
	reg := &memRegistry{entry: registry.Entry{PID: 150, Port: 3101}}
	s, _ := newTestSupervisor(w, reg)

	result, err := s.Stop(context.Background(), 3101)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if slices.Contains(result.Killed, 150) {
		t.Errorf("dead registry pid should not be signalled, killed %v", result.Killed)
	}
}

func TestStopIncomplete(t *testing.T) {
	w := newWorld()
	w.portPIDs = []int{300}
	w.alive[300] = true
	w.immortal[300] = true
	reg := &memRegistry{entry: registry.Entry{PID: 300, Port: 3101}}
	s, sleeps := newTestSupervisor(w, reg)

	result, err := s.Stop(context.Background(), 3101)
	if !errors.Is(err, ErrStopIncomplete) {
		t.Fatalf("expected ErrStopIncomplete, got %v", err)
	}
	if !reflect.DeepEqual(result.Remaining, []int{300}) {
		t.Errorf("expected remaining [300], got %v", result.Remaining)
	}
	if reg.clears != 1 {
		t.Errorf("registry must be cleared even on partial teardown, got %d clears", reg.clears)
	}
	// Initial wait plus five retries
	want := []time.Duration{1500 * time.Millisecond}
	for range 5 {
		want = append(want, 500*time.Millisecond)
	}
	if !reflect.DeepEqual(*sleeps, want) {
		t.Errorf("expected waits %v, got %v", want, *sleeps)
	}
	if len(w.killed) != 6 {
		t.Errorf("expected 6 kill attempts, got %d", len(w.killed))
	}
}

func TestStopReportsSurvivingWrapper(t *testing.T) {
	w := newWorld()
	w.portPIDs = []int{300}
	w.relatedPIDs = []int{301}
	w.alive = map[int]bool{300: true, 301: true}
	w.immortal[301] = true
	reg := &memRegistry{defaultPort: 3101}
	s, _ := newTestSupervisor(w, reg)

	result, err := s.Stop(context.Background(), 3101)
	if !errors.Is(err, ErrStopIncomplete) {
		t.Fatalf("expected ErrStopIncomplete, got %v", err)
	}
	if !reflect.DeepEqual(result.Remaining, []int{301}) {
		t.Errorf("expected remaining [301], got %v", result.Remaining)
	}
	var wrapperKills int
	for _, pid := range w.killed {
		if pid == 301 {
			wrapperKills++
		}
	}
	if wrapperKills != 6 {
		t.Errorf("expected the wrapper signalled 6 times, got %d", wrapperKills)
	}
}

func TestStatusHealthy(t *testing.T) {
	w := newWorld()
	w.healthy = true
	w.portPIDs = []int{400}
	w.alive[400] = true
	reg := &memRegistry{entry: registry.Entry{PID: 400, Port: 3101}}
	s, _ := newTestSupervisor(w, reg)

	report := s.Status(context.Background(), 3101)
	if report.State != StateHealthy {
		t.Errorf("expected healthy, got %s", report.State)
	}
	if report.PID != 400 {
		t.Errorf("expected pid 400, got %d", report.PID)
	}
	if report.RegistryStale {
		t.Error("registry should not be stale")
	}
}

func TestStatusHealthyWithStaleRegistry(t *testing.T) {
	w := newWorld()
	w.healthy = true
	w.portPIDs = []int{400}
	w.alive = map[int]bool{400: true, 12: true}
	reg := &memRegistry{entry: registry.Entry{PID: 12, Port: 3101}}
	s, _ := newTestSupervisor(w, reg)

	report := s.Status(context.Background(), 3101)
	if report.State != StateHealthy {
		t.Errorf("expected healthy, got %s", report.State)
	}
	if !report.RegistryStale {
		t.Error("expected stale registry warning")
	}
	if report.PID != 400 {
		t.Errorf("expected located pid 400, got %d", report.PID)
	}
	if reg.clears != 0 {
		t.Error("status must not clear the registry of a healthy service")
	}
}

func TestStatusUnresponsive(t *testing.T) {
	w := newWorld()
	w.portPIDs = []int{500, 501}
	reg := &memRegistry{defaultPort: 3101}
	s, _ := newTestSupervisor(w, reg)

	report := s.Status(context.Background(), 3101)
	if report.State != StateUnresponsive {
		t.Errorf("expected unresponsive, got %s", report.State)
	}
	if !reflect.DeepEqual(report.PIDs, []int{500, 501}) {
		t.Errorf("expected pids [500 501], got %v", report.PIDs)
	}
	if report.RegistryStale {
		t.Error("an empty registry is not stale")
	}
}

func TestStatusUnresponsiveRegistry(t *testing.T) {
	tests := []struct {
		name      string
		regPID    int
		wantStale bool
	}{
		{"registry pid on the port", 500, false},
		{"registry pid alive elsewhere", 111, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld()
			w.portPIDs = []int{500}
			w.alive = map[int]bool{500: true, 111: true}
			reg := &memRegistry{entry: registry.Entry{PID: tt.regPID, Port: 3101}}
			s, _ := newTestSupervisor(w, reg)

			report := s.Status(context.Background(), 3101)
			if report.State != StateUnresponsive {
				t.Fatalf("expected unresponsive, got %s", report.State)
			}
			if report.RegistryStale != tt.wantStale {
				t.Errorf("RegistryStale = %v, want %v", report.RegistryStale, tt.wantStale)
			}
			if reg.clears != 0 {
				t.Error("status must not clear the registry while the port is held")
			}
		})
	}
}

func TestStatusHealthyWithoutRegistry(t *testing.T) {
	w := newWorld()
	w.healthy = true
	w.portPIDs = []int{400}
	w.alive[400] = true
	reg := &memRegistry{defaultPort: 3101}
	s, _ := newTestSupervisor(w, reg)

	report := s.Status(context.Background(), 3101)
	if report.State != StateHealthy {
		t.Errorf("expected healthy, got %s", report.State)
	}
	if report.PID != 400 {
		t.Errorf("expected located pid 400, got %d", report.PID)
	}
	if report.RegistryStale {
		t.Error("a missing registry entry is not a stale one")
	}
}

func TestStatusStoppedClearsDeadRegistry(t *testing.T) {
	w := newWorld()
	reg := &memRegistry{entry: registry.Entry{PID: 600, Port: 3101}}
	s, _ := newTestSupervisor(w, reg)

	report := s.Status(context.Background(), 3101)
	if report.State != StateStopped {
		t.Errorf("expected stopped, got %s", report.State)
	}
	if !report.RegistryStale {
		t.Error("expected stale registry to be reported")
	}
	if reg.clears != 1 {
		t.Errorf("expected stale registry to be cleared, got %d clears", reg.clears)
	}
}

func TestRestartStartsAfterIncompleteStop(t *testing.T) {
	w := newWorld()
	w.portPIDs = []int{700}
	w.alive[700] = true
	w.immortal[700] = true
	w.spawnedPID = 701
	w.servingPID = 701
	w.healthyAfter = 0
	reg := &memRegistry{defaultPort: 3101}
	s, _ := newTestSupervisor(w, reg)

	result, err := s.Restart(context.Background(), 3101)
	if err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if w.spawns != 1 {
		t.Errorf("expected start to run after failed stop, spawns=%d", w.spawns)
	}
	if result.PID != 701 {
		t.Errorf("expected pid 701, got %d", result.PID)
	}
}

func TestResolvePort(t *testing.T) {
	reg := &memRegistry{}
	s, _ := newTestSupervisor(newWorld(), reg)

	if got := s.ResolvePort(0, 3101); got != 3101 {
		t.Errorf("expected fallback 3101, got %d", got)
	}
	reg.entry = registry.Entry{PID: 1, Port: 4000}
	if got := s.ResolvePort(0, 3101); got != 4000 {
		t.Errorf("expected registry port 4000, got %d", got)
	}
	if got := s.ResolvePort(5000, 3101); got != 5000 {
		t.Errorf("expected explicit port 5000, got %d", got)
	}
}

func TestStartHonoursCancellation(t *testing.T) {
	w := newWorld()
	w.spawnedPID = 100
	reg := &memRegistry{defaultPort: 3101}
	s, _ := newTestSupervisor(w, reg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Start(ctx, 3101); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
