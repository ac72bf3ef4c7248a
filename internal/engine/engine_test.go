package engine

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marinerapp/mariner/internal/testing/fakes/fakerand"
	"github.com/marinerapp/mariner/internal/testing/fakes/faketransport"
	"github.com/marinerapp/mariner/internal/transport"
)

var beginMarkerRe = regexp.MustCompile(`__MARINER_TERM_[0-9a-f]+_BEGIN__`)

// pairFromWrite recovers the marker pair from a wrapped command's bytes.
func pairFromWrite(w string) (start, end string, ok bool) {
	start = beginMarkerRe.FindString(w)
	if start == "" {
		return "", "", false
	}
	return start, strings.Replace(start, "_BEGIN__", "_END__", 1), true
}

// completionBlock is what a shell genuinely emits for a wrapped command.
func completionBlock(start, end, output string, exitCode int) string {
	var b strings.Builder
	b.WriteString(start + "\n")
	if output != "" {
		b.WriteString(output + "\n")
	}
	b.WriteString(strconv.Itoa(exitCode) + "\n")
	b.WriteString(end + "\n")
	return b.String()
}

// newTestEngine returns an engine tuned for tests: no settle pauses,
// deterministic markers.
func newTestEngine() *Engine {
	return New(
		WithRandom(fakerand.New()),
		WithSettleDelay(0),
	)
}

func mustAttach(t *testing.T, e *Engine, id string, tr transport.Transport) *Session {
	t.Helper()
	s, err := e.Attach(id, tr)
	if err != nil {
		t.Fatalf("Attach(%q): %v", id, err)
	}
	return s
}

// respondToCommands installs a write hook that behaves like a well-behaved
// shell: every wrapped command gets echoed back and completed with the given
// output and exit code.
func respondToCommands(tr *faketransport.Transport, output string, exitCode int) {
	tr.SetWriteHook(func(p []byte) {
		w := string(p)
		start, end, ok := pairFromWrite(w)
		if !ok {
			return
		}
		tr.Emit(w) // shell echo of the typed text
		tr.Emit(completionBlock(start, end, output, exitCode))
	})
}

func TestExecute_Simple(t *testing.T) {
	e := newTestEngine()
	tr := faketransport.New()
	defer tr.Close()
	respondToCommands(tr, "hi", 0)

	s := mustAttach(t, e, "term-1", tr)
	res, err := s.Execute("echo hi", time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if res.Command != "echo hi" {
		t.Errorf("Command = %q, want %q", res.Command, "echo hi")
	}
	if res.Output != "hi" {
		t.Errorf("Output = %q, want %q", res.Output, "hi")
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.TimedOut {
		t.Error("TimedOut = true")
	}
	if res.Elapsed < 0 {
		t.Errorf("Elapsed = %v", res.Elapsed)
	}
	if !res.Success() {
		t.Error("Success() = false")
	}
}

func TestExecute_NonZeroExitIsDataNotError(t *testing.T) {
	e := newTestEngine()
	tr := faketransport.New()
	defer tr.Close()
	respondToCommands(tr, "ls: cannot access '/x': No such file or directory", 2)

	s := mustAttach(t, e, "term-1", tr)
	res, err := s.Execute("ls /x", time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", res.ExitCode)
	}
	if res.Success() {
		t.Error("Success() = true for exit code 2")
	}
}

func TestExecute_PrimesOnce(t *testing.T) {
	e := newTestEngine()
	tr := faketransport.New()
	defer tr.Close()
	respondToCommands(tr, "", 0)

	s := mustAttach(t, e, "term-1", tr)
	if _, err := s.Execute("true", time.Second); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := s.Execute("true", time.Second); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	count := 0
	for _, w := range tr.Writes() {
		if strings.Contains(w, "stty -echo") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("priming script written %d times, want 1", count)
	}
}

func TestExecute_Serialization(t *testing.T) {
	e := newTestEngine()
	tr := faketransport.New()
	defer tr.Close()

	// The hook completes only the second command; the first stays pending
	// until the test releases it.
	tr.SetWriteHook(func(p []byte) {
		w := string(p)
		if !strings.Contains(w, "echo second") {
			return
		}
		if start, end, ok := pairFromWrite(w); ok {
			tr.Emit(completionBlock(start, end, "second", 0))
		}
	})

	s := mustAttach(t, e, "term-1", tr)

	firstWritten := make(chan string, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := s.Execute("echo first", 5*time.Second)
		if err != nil {
			t.Errorf("first Execute: %v", err)
			return
		}
		if res.Output != "first" {
			t.Errorf("first Output = %q", res.Output)
		}
	}()

	// Wait for the first wrapped command to hit the wire.
	deadline := time.After(2 * time.Second)
	for {
		if w := findWrite(tr, "echo first"); w != "" {
			firstWritten <- w
			break
		}
		select {
		case <-deadline:
			t.Fatal("first command never written")
		case <-time.After(time.Millisecond):
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := s.Execute("echo second", 5*time.Second); err != nil {
			t.Errorf("second Execute: %v", err)
		}
	}()

	// The second submission must queue: its wrapped text must not be
	// written while the first command is unresolved.
	time.Sleep(50 * time.Millisecond)
	if w := findWrite(tr, "echo second"); w != "" {
		t.Fatal("second command written before first resolved")
	}

	// Release the first command; the second should then flow.
	first := <-firstWritten
	start, end, _ := pairFromWrite(first)
	tr.Emit(completionBlock(start, end, "first", 0))

	wg.Wait()
	if w := findWrite(tr, "echo second"); w == "" {
		t.Fatal("second command never written after first resolved")
	}
}

func findWrite(tr *faketransport.Transport, substr string) string {
	for _, w := range tr.Writes() {
		if strings.Contains(w, substr) {
			return w
		}
	}
	return ""
}

func TestExecute_Timeout(t *testing.T) {
	e := newTestEngine()
	tr := faketransport.New()
	defer tr.Close()

	s := mustAttach(t, e, "term-1", tr)

	// Emit partial output but never the end marker.
	tr.SetWriteHook(func(p []byte) {
		if _, _, ok := pairFromWrite(string(p)); ok {
			start, _, _ := pairFromWrite(string(p))
			tr.Emit(start + "\npartial output\n")
		}
	})

	res, err := s.Execute("sleep 999", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !res.TimedOut {
		t.Error("TimedOut = false")
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
	if res.Output != "partial output" {
		t.Errorf("Output = %q, want captured partial output", res.Output)
	}

	s.mu.Lock()
	reset := s.resetPending
	s.mu.Unlock()
	if !reset {
		t.Error("resetPending = false after timeout")
	}
}

func TestExecute_InterruptPrecedesCommandAfterTimeout(t *testing.T) {
	e := newTestEngine()
	tr := faketransport.New()
	defer tr.Close()

	s := mustAttach(t, e, "term-1", tr)

	if _, err := s.Execute("hang", 20*time.Millisecond); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	respondToCommands(tr, "ok", 0)
	if _, err := s.Execute("echo after", time.Second); err != nil {
		t.Fatalf("Execute after timeout: %v", err)
	}

	writes := tr.Writes()
	interruptAt, commandAt := -1, -1
	for i, w := range writes {
		if w == "\x03" && interruptAt == -1 {
			interruptAt = i
		}
		if strings.Contains(w, "echo after") {
			commandAt = i
		}
	}
	if interruptAt == -1 {
		t.Fatal("no interrupt write found")
	}
	if commandAt == -1 {
		t.Fatal("second command never written")
	}
	if interruptAt > commandAt {
		t.Errorf("interrupt written at %d, after command at %d", interruptAt, commandAt)
	}
}

func TestExecute_PasswordInjectedOnce(t *testing.T) {
	e := newTestEngine()
	tr := faketransport.New()
	defer tr.Close()

	s := mustAttach(t, e, "term-1", tr)
	s.SetPassword([]byte("hunter2"))

	var pendingStart, pendingEnd string
	tr.SetWriteHook(func(p []byte) {
		w := string(p)
		if start, end, ok := pairFromWrite(w); ok {
			pendingStart, pendingEnd = start, end
			tr.Emit(start + "\n")
			// Prompt emitted twice across chunks: the signature stays
			// in the buffer through multiple scan passes.
			tr.Emit("[sudo] password for deploy: ")
			tr.Emit("\n[sudo] password for deploy: ")
			return
		}
		if strings.HasPrefix(w, "hunter2") {
			tr.Emit("\nunpacked archive\n" + completionBlock(pendingStart, pendingEnd, "", 0))
		}
	})

	res, err := s.Execute("sudo tar xf backup.tar", 2*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}

	injections := 0
	for _, w := range tr.Writes() {
		if w == "hunter2\r" {
			injections++
		}
	}
	if injections != 1 {
		t.Errorf("credential written %d times, want exactly 1", injections)
	}
}

func TestExecute_NoCredentialNoInjection(t *testing.T) {
	e := newTestEngine()
	tr := faketransport.New()
	defer tr.Close()

	s := mustAttach(t, e, "term-1", tr)

	tr.SetWriteHook(func(p []byte) {
		if start, _, ok := pairFromWrite(string(p)); ok {
			tr.Emit(start + "\nPassword: ")
		}
	})

	res, err := s.Execute("sudo whoami", 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.TimedOut {
		t.Error("expected timeout with no credential to inject")
	}
	for _, w := range tr.Writes() {
		if strings.HasSuffix(w, "\r") && !strings.Contains(w, "MARINER") {
			t.Errorf("unexpected injection write %q", w)
		}
	}
}

func TestExecute_RoutingIgnoresForeignChunks(t *testing.T) {
	e := newTestEngine()
	tr := faketransport.New()
	defer tr.Close()
	other := faketransport.New()
	defer other.Close()

	s := mustAttach(t, e, "term-1", tr)

	done := make(chan *Result, 1)
	go func() {
		res, err := s.Execute("echo routed", 2*time.Second)
		if err != nil {
			t.Errorf("Execute: %v", err)
		}
		done <- res
	}()

	// Wait for dispatch, then deliver a complete-looking block attributed
	// to a different transport. It must not resolve the command.
	var start, end string
	for i := 0; i < 2000; i++ {
		if w := findWrite(tr, "echo routed"); w != "" {
			start, end, _ = pairFromWrite(w)
			break
		}
		time.Sleep(time.Millisecond)
	}
	if start == "" {
		t.Fatal("command never written")
	}

	tr.EmitFrom(other, completionBlock(start, end, "forged", 0))

	select {
	case <-done:
		t.Fatal("command resolved from a foreign transport's chunk")
	case <-time.After(50 * time.Millisecond):
	}

	tr.Emit(completionBlock(start, end, "genuine", 0))
	select {
	case res := <-done:
		if res.Output != "genuine" {
			t.Errorf("Output = %q, want %q", res.Output, "genuine")
		}
	case <-time.After(time.Second):
		t.Fatal("command did not resolve from its own transport's chunk")
	}
}

func TestExecute_SudoStrippedOnRootSession(t *testing.T) {
	e := newTestEngine()
	tr := faketransport.New()
	defer tr.Close()
	respondToCommands(tr, "", 0)

	s := mustAttach(t, e, "term-1", tr)
	s.SetRunAsRoot(true)

	res, err := s.Execute("sudo systemctl restart nginx && sudo systemctl status nginx", time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "systemctl restart nginx && systemctl status nginx"
	if res.Command != want {
		t.Errorf("Command = %q, want %q", res.Command, want)
	}

	w := findWrite(tr, "systemctl restart")
	if strings.Contains(w, "sudo ") {
		t.Errorf("written command still contains sudo: %q", w)
	}
}

func TestExecute_SudoLookalikesUntouched(t *testing.T) {
	e := newTestEngine()
	tr := faketransport.New()
	defer tr.Close()
	respondToCommands(tr, "", 0)

	s := mustAttach(t, e, "term-1", tr)
	s.SetRunAsRoot(true)

	res, err := s.Execute("echo sudoku && cat sudoers.bak", time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Command != "echo sudoku && cat sudoers.bak" {
		t.Errorf("Command = %q, lookalike words were rewritten", res.Command)
	}
}

func TestDetach_ReleasesSession(t *testing.T) {
	e := newTestEngine()
	tr := faketransport.New()
	defer tr.Close()

	s := mustAttach(t, e, "term-1", tr)

	done := make(chan *Result, 1)
	go func() {
		res, err := s.Execute("hang forever", time.Minute)
		if err != nil {
			t.Errorf("Execute: %v", err)
			return
		}
		done <- res
	}()

	for i := 0; i < 2000; i++ {
		if findWrite(tr, "hang forever") != "" {
			break
		}
		time.Sleep(time.Millisecond)
	}

	e.Detach("term-1")

	select {
	case res := <-done:
		if res.ExitCode != -1 {
			t.Errorf("ExitCode = %d, want -1 for aborted command", res.ExitCode)
		}
	case <-time.After(time.Second):
		t.Fatal("in-flight command did not resolve on detach")
	}

	if _, ok := e.Session("term-1"); ok {
		t.Error("session still registered after Detach")
	}
	if _, err := s.Execute("true", time.Second); err != ErrSessionClosed {
		t.Errorf("Execute after Detach = %v, want ErrSessionClosed", err)
	}
}

func TestSession_ClosesWhenTransportEnds(t *testing.T) {
	e := newTestEngine()
	tr := faketransport.New()

	s := mustAttach(t, e, "term-1", tr)
	tr.Close()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not observe transport end")
	}
	if _, err := s.Execute("true", time.Second); err != ErrSessionClosed {
		t.Errorf("Execute = %v, want ErrSessionClosed", err)
	}
}

func TestEngine_SessionsRunIndependently(t *testing.T) {
	e := newTestEngine()
	trA := faketransport.New()
	defer trA.Close()
	trB := faketransport.New()
	defer trB.Close()
	respondToCommands(trB, "from b", 0)

	sA := mustAttach(t, e, "a", trA) // never completes anything
	sB := mustAttach(t, e, "b", trB)

	blocked := make(chan struct{})
	go func() {
		sA.Execute("hang", time.Minute)
		close(blocked)
	}()

	res, err := sB.Execute("echo x", time.Second)
	if err != nil {
		t.Fatalf("Execute on session b: %v", err)
	}
	if res.Output != "from b" {
		t.Errorf("Output = %q", res.Output)
	}

	select {
	case <-blocked:
		t.Error("session a resolved unexpectedly")
	default:
	}
	e.Detach("a")
	<-blocked
}

func TestAttach_EnforcesSessionLimit(t *testing.T) {
	e := New(
		WithRandom(fakerand.New()),
		WithSettleDelay(0),
		WithMaxSessions(2),
	)
	tr1 := faketransport.New()
	defer tr1.Close()
	tr2 := faketransport.New()
	defer tr2.Close()
	tr3 := faketransport.New()
	defer tr3.Close()

	if _, err := e.Attach("a", tr1); err != nil {
		t.Fatalf("Attach a: %v", err)
	}
	if _, err := e.Attach("b", tr2); err != nil {
		t.Fatalf("Attach b: %v", err)
	}
	if _, err := e.Attach("c", tr3); !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("Attach past limit = %v, want ErrSessionLimit", err)
	}

	// Detaching frees the slot.
	e.Detach("a")
	if _, err := e.Attach("c", tr3); err != nil {
		t.Errorf("Attach after Detach = %v", err)
	}
}

func TestClearSessionCache(t *testing.T) {
	e := newTestEngine()
	tr := faketransport.New()
	defer tr.Close()

	s := mustAttach(t, e, "term-1", tr)
	s.SetPassword([]byte("hunter2"))

	e.ClearSessionCache("term-1")

	s.mu.Lock()
	cache := s.password
	s.mu.Unlock()
	if cache != nil {
		t.Error("password cache not released")
	}
}
