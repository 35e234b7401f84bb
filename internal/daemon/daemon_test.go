package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benaskins/hotmacro/internal/action"
	"github.com/benaskins/hotmacro/internal/audit"
	"github.com/benaskins/hotmacro/internal/config"
	"github.com/benaskins/hotmacro/internal/keychain"
	"github.com/benaskins/hotmacro/internal/macro"
	"github.com/benaskins/hotmacro/internal/notify"
	"github.com/benaskins/hotmacro/internal/vault"
)

type fakeOpener struct {
	mu   sync.Mutex
	urls []string
}

func (o *fakeOpener) Open(url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	return nil
}

func (o *fakeOpener) opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.urls...)
}

// blockingLogin holds every login until its context ends or it is released.
type blockingLogin struct {
	started  chan string
	mu       sync.Mutex
	release  chan struct{}
	released int
}

func newBlockingLogin() *blockingLogin {
	return &blockingLogin{started: make(chan string, 4)}
}

func (l *blockingLogin) Login(ctx context.Context, url, user, pass string) error {
	rel := make(chan struct{})
	l.mu.Lock()
	l.release = rel
	l.mu.Unlock()
	l.started <- url
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rel:
		return nil
	}
}

func (l *blockingLogin) Release() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.release == nil {
		return false
	}
	close(l.release)
	l.release = nil
	l.released++
	return true
}

func newTestDaemon(t *testing.T, opts ...Option) (*Daemon, *fakeOpener) {
	t.Helper()
	opener := &fakeOpener{}
	base := []Option{
		WithOpener(opener),
		WithLogin(newBlockingLogin()),
		WithTriggerRate(-1),
		WithWatchDebounce(20 * time.Millisecond),
		WithNotifier(notify.NewLogNotifier(nil)),
	}
	d := NewDaemon(t.TempDir(), append(base, opts...)...)
	return d, opener
}

func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
}

func waitReport(t *testing.T, ch <-chan action.Report) action.Report {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
		return action.Report{}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAddMacroPersists(t *testing.T) {
	d, _ := newTestDaemon(t)

	k, err := d.AddMacro("F5", []string{"https://a.example", "echo hi"})
	if err != nil {
		t.Fatalf("AddMacro: %v", err)
	}
	if k != "f5" {
		t.Errorf("canonical key = %q, want f5", k)
	}

	m, err := macro.NewStore(filepath.Join(d.dataDir, macro.FileName)).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m["f5"]; len(got) != 2 || got[0] != "https://a.example" {
		t.Fatalf("stored = %v", got)
	}
}

func TestAddMacroInvalidKeyLeavesFileAlone(t *testing.T) {
	d, _ := newTestDaemon(t)

	_, err := d.AddMacro("ab", []string{"x"})
	var ve *macro.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if _, err := os.Stat(filepath.Join(d.dataDir, macro.FileName)); !os.IsNotExist(err) {
		t.Fatalf("macro file touched: %v", err)
	}
}

func TestAddMacroEmptyListDeletes(t *testing.T) {
	d, _ := newTestDaemon(t)
	if _, err := d.AddMacro("w", []string{"x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.AddMacro("w", nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.Macros()["w"]; ok {
		t.Fatal("key still present after empty add")
	}
}

func TestDeleteMacro(t *testing.T) {
	d, _ := newTestDaemon(t)
	d.AddMacro("w", []string{"x"})

	ok, err := d.DeleteMacro("w")
	if err != nil || !ok {
		t.Fatalf("DeleteMacro = %v, %v", ok, err)
	}
	ok, err = d.DeleteMacro("w")
	if err != nil || ok {
		t.Fatalf("second DeleteMacro = %v, %v", ok, err)
	}
}

func TestStartLoadsMacrosAndSurvivesCorruptFile(t *testing.T) {
	d, _ := newTestDaemon(t)
	os.WriteFile(filepath.Join(d.dataDir, macro.FileName), []byte("{not json"), 0644)
	startDaemon(t, d)

	if len(d.Macros()) != 0 {
		t.Fatalf("macros = %v, want empty", d.Macros())
	}
	notices := d.Notices()
	if len(notices) == 0 || notices[0].Level != notify.LevelError {
		t.Fatalf("notices = %+v, want an error notice", notices)
	}
}

func TestFireRunsInOrder(t *testing.T) {
	d, opener := newTestDaemon(t)
	d.AddMacro("w", []string{"https://one.example", "www.two.example"})
	startDaemon(t, d)

	ch, err := d.Fire("w", "api")
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	r := waitReport(t, ch)
	if r.Count(action.StatusSucceeded) != 2 {
		t.Fatalf("report = %+v", r)
	}
	got := opener.opened()
	if len(got) != 2 || got[0] != "https://one.example" || got[1] != "https://www.two.example" {
		t.Fatalf("opened = %v", got)
	}
	if runs := d.Runs(); len(runs) != 1 || runs[0].RunID != r.RunID {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestFireUnknownAndNotRunning(t *testing.T) {
	d, _ := newTestDaemon(t)
	if _, err := d.Fire("w", "api"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
	startDaemon(t, d)
	if _, err := d.Fire("w", "api"); !errors.Is(err, ErrUnknownMacro) {
		t.Fatalf("err = %v, want ErrUnknownMacro", err)
	}
}

func TestRunsAreSerialized(t *testing.T) {
	d, opener := newTestDaemon(t)
	d.AddMacro("a", []string{"https://a1", "https://a2"})
	d.AddMacro("b", []string{"https://b1"})
	startDaemon(t, d)

	chA, _ := d.Fire("a", "api")
	chB, _ := d.Fire("b", "api")
	waitReport(t, chA)
	waitReport(t, chB)

	got := opener.opened()
	want := []string{"https://a1", "https://a2", "https://b1"}
	if len(got) != len(want) {
		t.Fatalf("opened = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("opened = %v, want %v", got, want)
		}
	}
}

func TestHotkeyPathFiresOnlyWhenArmed(t *testing.T) {
	d, opener := newTestDaemon(t)
	d.AddMacro("w", []string{"https://w.example"})
	startDaemon(t, d)

	if err := d.Press("w"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if len(opener.opened()) != 0 {
		t.Fatal("fired while disarmed")
	}

	if d.ToggleMode().String() != "armed" {
		t.Fatal("toggle did not arm")
	}
	d.Press("w")
	eventually(t, "hotkey run", func() bool { return len(d.Runs()) == 1 })
	if got := opener.opened(); len(got) != 1 || got[0] != "https://w.example" {
		t.Fatalf("opened = %v", got)
	}
}

func TestCancelRunsSkipsRemaining(t *testing.T) {
	login := newBlockingLogin()
	d, opener := newTestDaemon(t, WithLogin(login))
	if err := d.vault.Put("https://login.example", "u", "p"); err != nil {
		t.Fatal(err)
	}
	d.AddMacro("l", []string{"https://login.example", "https://after.example"})
	startDaemon(t, d)

	ch, err := d.Fire("l", "api")
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-login.started:
	case <-time.After(5 * time.Second):
		t.Fatal("login never started")
	}
	if d.CancelRuns() != 1 {
		t.Fatal("CancelRuns found no run")
	}

	r := waitReport(t, ch)
	if !r.Cancelled {
		t.Fatal("report not marked cancelled")
	}
	if r.Outcomes[1].Status != action.StatusSkipped {
		t.Fatalf("second outcome = %s, want skipped", r.Outcomes[1].Status)
	}
	if len(opener.opened()) != 0 {
		t.Fatalf("opened %v after cancel", opener.opened())
	}
}

func TestReleaseLogin(t *testing.T) {
	login := newBlockingLogin()
	d, opener := newTestDaemon(t, WithLogin(login))
	d.vault.Put("https://login.example", "u", "p")
	d.AddMacro("l", []string{"https://login.example", "https://after.example"})
	startDaemon(t, d)

	ch, _ := d.Fire("l", "api")
	<-login.started
	if !d.ReleaseLogin() {
		t.Fatal("ReleaseLogin reported no session")
	}
	r := waitReport(t, ch)
	if r.Count(action.StatusSucceeded) != 2 {
		t.Fatalf("report = %+v", r.Outcomes)
	}
	if got := opener.opened(); len(got) != 1 || got[0] != "https://after.example" {
		t.Fatalf("opened = %v", got)
	}
}

func TestWatcherReloadsMacros(t *testing.T) {
	d, _ := newTestDaemon(t)
	startDaemon(t, d)

	store := macro.NewStore(filepath.Join(d.dataDir, macro.FileName))
	if err := store.Save(macro.Macros{"q": {"https://q.example"}}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "macro reload", func() bool {
		_, ok := d.Macros()["q"]
		return ok
	})
}

func TestWatcherSeesEditRightAfterStart(t *testing.T) {
	for i := 0; i < 3; i++ {
		d, _ := newTestDaemon(t)
		if err := d.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		os.WriteFile(filepath.Join(d.dataDir, macro.FileName), []byte(`{"q": ["x"]}`), 0644)
		eventually(t, "macro reload", func() bool {
			_, ok := d.Macros()["q"]
			return ok
		})
		d.Stop()
	}
}

func TestFailedStartLeavesDaemonStopped(t *testing.T) {
	d, _ := newTestDaemon(t)
	d.AddMacro("w", []string{"https://w.example"})
	saltPath := filepath.Join(d.dataDir, vault.SaltFileName)
	if err := os.WriteFile(saltPath, []byte("short"), 0600); err != nil {
		t.Fatal(err)
	}

	err := d.Start(context.Background())
	if !errors.Is(err, vault.ErrBadSalt) {
		t.Fatalf("Start err = %v, want ErrBadSalt", err)
	}
	if d.running() {
		t.Fatal("daemon reports running after failed Start")
	}
	if _, err := d.Fire("w", "api"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Fire err = %v, want ErrNotRunning", err)
	}
	if err := d.Press("w"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Press err = %v, want ErrNotRunning", err)
	}

	os.Remove(saltPath)
	startDaemon(t, d)
	ch, err := d.Fire("w", "api")
	if err != nil {
		t.Fatalf("Fire after restart: %v", err)
	}
	if r := waitReport(t, ch); r.Count(action.StatusSucceeded) != 1 {
		t.Fatalf("report = %+v", r.Outcomes)
	}
}

func TestStartWithBlankMacroFile(t *testing.T) {
	d, _ := newTestDaemon(t)
	os.WriteFile(filepath.Join(d.dataDir, macro.FileName), nil, 0644)
	startDaemon(t, d)

	if len(d.Macros()) != 0 {
		t.Fatalf("macros = %v", d.Macros())
	}
	for _, n := range d.Notices() {
		if n.Level == notify.LevelError {
			t.Fatalf("unexpected error notice %+v", n)
		}
	}
}

func TestCancelAppliesToJobTakenFromQueue(t *testing.T) {
	d, opener := newTestDaemon(t)

	// The worker has dequeued the job but not registered it when the
	// cancel arrives.
	j := job{key: "w", actions: []string{"https://w.example"}, done: make(chan action.Report, 1)}
	j.gen = d.cancelGen
	if n := d.CancelRuns(); n != 0 {
		t.Fatalf("CancelRuns = %d with nothing queued", n)
	}
	d.runJob(context.Background(), j)

	r := waitReport(t, j.done)
	if !r.Cancelled || r.Count(action.StatusSkipped) != 1 {
		t.Fatalf("report = %+v", r)
	}
	if len(opener.opened()) != 0 {
		t.Fatalf("opened %v after cancel", opener.opened())
	}

	// Jobs queued after the cancel run normally.
	j2 := job{key: "w", actions: []string{"https://w.example"}, done: make(chan action.Report, 1)}
	j2.gen = d.cancelGen
	d.runJob(context.Background(), j2)
	if r := waitReport(t, j2.done); r.Cancelled || r.Count(action.StatusSucceeded) != 1 {
		t.Fatalf("report = %+v", r)
	}
}

func TestTerminateLaunch(t *testing.T) {
	d, _ := newTestDaemon(t)
	d.AddMacro("s", []string{"sleep 30"})
	startDaemon(t, d)

	ch, _ := d.Fire("s", "api")
	r := waitReport(t, ch)
	pid := r.Outcomes[0].PID
	if pid == 0 {
		t.Fatalf("report = %+v", r.Outcomes)
	}

	info, err := d.TerminateLaunch(context.Background(), pid)
	if err != nil {
		t.Fatalf("TerminateLaunch: %v", err)
	}
	if info.Running {
		t.Fatalf("info = %+v, want exited", info)
	}
	if _, err := d.TerminateLaunch(context.Background(), 999999999); !errors.Is(err, ErrUnknownLaunch) {
		t.Fatalf("unknown pid err = %v", err)
	}
}

func TestReloadKeepsSnapshotOnCorruptFile(t *testing.T) {
	d, _ := newTestDaemon(t)
	d.AddMacro("w", []string{"x"})

	os.WriteFile(filepath.Join(d.dataDir, macro.FileName), []byte("["), 0644)
	var pe *macro.PersistenceError
	if err := d.ReloadMacros(); !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
	if _, ok := d.Macros()["w"]; !ok {
		t.Fatal("snapshot replaced by corrupt file")
	}
}

func TestFailedActionIsNoticed(t *testing.T) {
	d, _ := newTestDaemon(t)
	d.AddMacro("z", []string{"   ", "https://ok.example"})
	startDaemon(t, d)

	ch, _ := d.Fire("z", "api")
	r := waitReport(t, ch)
	if r.Count(action.StatusFailed) != 1 || r.Count(action.StatusSucceeded) != 1 {
		t.Fatalf("report = %+v", r.Outcomes)
	}
	found := false
	for _, n := range d.Notices() {
		if n.Level == notify.LevelError && n.RunID == r.RunID {
			found = true
		}
	}
	if !found {
		t.Fatal("no error notice for failed action")
	}
}

func TestLaunches(t *testing.T) {
	d, _ := newTestDaemon(t)
	d.AddMacro("e", []string{"echo launched"})
	startDaemon(t, d)

	ch, _ := d.Fire("e", "api")
	waitReport(t, ch)

	eventually(t, "launch output", func() bool {
		l := d.Launches(10)
		return len(l) == 1 && !l[0].Running && len(l[0].Output) == 1 && l[0].Output[0] == "launched"
	})
}

func TestStatus(t *testing.T) {
	d, _ := newTestDaemon(t)
	d.AddMacro("w", []string{"x"})
	startDaemon(t, d)

	s := d.Status()
	if s.Mode != "disarmed" || s.Macros != 1 || s.Chord != "alt+ctrl+m" {
		t.Fatalf("status = %+v", s)
	}
}

func TestRunAudit(t *testing.T) {
	dir := t.TempDir()
	a, err := audit.NewLogger(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	d, _ := newTestDaemon(t, WithAudit(a))
	d.AddMacro("w", []string{"https://w.example"})
	startDaemon(t, d)
	ch, _ := d.Fire("w", "cli")
	waitReport(t, ch)

	data, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"trigger":"cli"`) {
		t.Fatalf("audit log missing trigger: %s", data)
	}
}

func TestNewVaultPassphraseSources(t *testing.T) {
	dir := t.TempDir()
	kc := keychain.NewMemoryStore()

	builtin, err := NewVault(dir, config.PassphraseBuiltin, kc, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := builtin.Put("https://x", "u", "p"); err != nil {
		t.Fatal(err)
	}

	// No keychain item: falls back to the built-in passphrase and can read.
	fallback, err := NewVault(dir, config.PassphraseKeychain, kc, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res, _ := fallback.Load(); res.Status != vault.LoadOK {
		t.Fatalf("fallback status = %v, want ok", res.Status)
	}

	// A different keychain passphrase cannot read the store.
	keychain.SetPassphrase(kc, "operator secret")
	custom, err := NewVault(dir, config.PassphraseKeychain, kc, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res, _ := custom.Load(); res.Status != vault.LoadFellBack {
		t.Fatalf("custom status = %v, want fell back", res.Status)
	}

	if _, err := NewVault(dir, "env", kc, nil); err == nil {
		t.Fatal("unknown source accepted")
	}
}

type failingKeychain struct{ *keychain.MemoryStore }

func (failingKeychain) Set(key, value string) error { return errors.New("keychain locked") }

func TestRekeyVault(t *testing.T) {
	dir := t.TempDir()
	kc := keychain.NewMemoryStore()
	current, _ := NewVault(dir, config.PassphraseKeychain, kc, nil)
	if err := current.Put("https://x", "u", "p"); err != nil {
		t.Fatal(err)
	}

	if _, err := RekeyVault(dir, config.PassphraseBuiltin, kc, current, "new secret", nil); !errors.Is(err, ErrPassphraseSource) {
		t.Fatalf("builtin source err = %v, want ErrPassphraseSource", err)
	}
	if res, _ := current.Load(); res.Status != vault.LoadOK {
		t.Fatalf("store rewritten after refusal: %v", res.Status)
	}

	n, err := RekeyVault(dir, config.PassphraseKeychain, kc, current, "new secret", nil)
	if err != nil || n != 1 {
		t.Fatalf("RekeyVault = %d, %v", n, err)
	}
	reopened, _ := NewVault(dir, config.PassphraseKeychain, kc, nil)
	res, _ := reopened.Load()
	if res.Status != vault.LoadOK || res.Credentials["https://x"].Password != "p" {
		t.Fatalf("reopened = %+v", res)
	}
}

func TestRekeyVaultRestoresStoreWhenKeychainFails(t *testing.T) {
	dir := t.TempDir()
	kc := keychain.NewMemoryStore()
	current, _ := NewVault(dir, config.PassphraseKeychain, kc, nil)
	if err := current.Put("https://x", "u", "p"); err != nil {
		t.Fatal(err)
	}

	bad := failingKeychain{kc}
	if _, err := RekeyVault(dir, config.PassphraseKeychain, bad, current, "new secret", nil); err == nil {
		t.Fatal("expected keychain error")
	}

	// The keychain still has no passphrase, so the built-in one must still
	// open the store.
	reopened, _ := NewVault(dir, config.PassphraseKeychain, kc, nil)
	res, _ := reopened.Load()
	if res.Status != vault.LoadOK || len(res.Credentials) != 1 {
		t.Fatalf("store after failed rekey = %+v", res)
	}
}
