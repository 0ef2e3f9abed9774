package e2e

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"
)

var (
	luxfsBin  string
	projRoot  string
	baseDir   string
	fuseReady bool
)

var luxLine = regexp.MustCompile(`^\d+ lux\n$`)

func TestMain(m *testing.M) {
	os.Exit(runMain(m))
}

func runMain(m *testing.M) int {
	// Build luxfs binary once for all tests
	tmpBinDir, err := os.MkdirTemp("", "luxfs-bin")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmpBinDir) //nolint:errcheck

	luxfsBin = filepath.Join(tmpBinDir, "luxfs")

	// Determine project root
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		panic("cannot determine current file path")
	}
	projRoot = filepath.Join(filepath.Dir(thisFile), "..", "..")

	// Build with debug symbols
	cmd := exec.Command("go", "build", "-o", luxfsBin, "-gcflags=all=-N -l", "./cmd/luxfs")
	cmd.Dir = projRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		panic(string(out))
	}

	baseDir, err = os.MkdirTemp("", "luxfs-e2e")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(baseDir) //nolint:errcheck

	fuseReady = fuseAvailable()
	return m.Run()
}

func fuseAvailable() bool {
	if _, err := os.Stat("/dev/fuse"); err != nil {
		return false
	}
	if _, err := exec.LookPath("fusermount"); err != nil {
		if _, err := exec.LookPath("fusermount3"); err != nil {
			return false
		}
	}
	return true
}

func requireFuse(t *testing.T) {
	t.Helper()
	if !fuseReady {
		t.Skip("FUSE unavailable: need /dev/fuse and fusermount")
	}
}

func TestE2EMountAndRead(t *testing.T) {
	requireFuse(t)
	lfs := StartLuxFS(t)
	defer lfs.Stop()

	for range 3 {
		data, err := os.ReadFile(lfs.LuxPath())
		if err != nil {
			t.Fatalf("failed to read lux: %v", err)
		}
		if !luxLine.Match(data) {
			t.Fatalf("unexpected lux content %q", data)
		}
	}
}

func TestE2EListing(t *testing.T) {
	requireFuse(t)
	lfs := StartLuxFS(t, "-s", "hall")
	defer lfs.Stop()

	root, err := os.ReadDir(lfs.MountDir)
	if err != nil {
		t.Fatalf("failed to list root: %v", err)
	}
	if len(root) != 1 || root[0].Name() != "hall" || !root[0].IsDir() {
		t.Fatalf("root entries = %v, want only dir hall", names(root))
	}

	dir, err := os.ReadDir(filepath.Join(lfs.MountDir, "hall"))
	if err != nil {
		t.Fatalf("failed to list srv dir: %v", err)
	}
	if len(dir) != 1 || dir[0].Name() != "lux" {
		t.Fatalf("dir entries = %v, want only lux", names(dir))
	}

	info, err := os.Stat(filepath.Join(lfs.MountDir, "hall", "lux"))
	if err != nil {
		t.Fatalf("stat lux: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o444 {
		t.Fatalf("lux perms = %o, want 444", perm)
	}
}

func TestE2EExclusiveOpen(t *testing.T) {
	requireFuse(t)
	lfs := StartLuxFS(t)
	defer lfs.Stop()

	first, err := os.Open(lfs.LuxPath())
	if err != nil {
		t.Fatalf("first open: %v", err)
	}

	if f, err := os.Open(lfs.LuxPath()); err == nil {
		f.Close()
		t.Fatal("second open succeeded while the file was held")
	} else if !errors.Is(err, syscall.EBUSY) {
		t.Fatalf("second open error = %v, want EBUSY", err)
	}

	buf := make([]byte, 64)
	n, err := first.Read(buf)
	if err != nil {
		t.Fatalf("read on held handle: %v", err)
	}
	if !luxLine.Match(buf[:n]) {
		t.Fatalf("unexpected lux content %q", buf[:n])
	}
	first.Close()

	// release is asynchronous from the kernel's side
	deadline := time.Now().Add(2 * time.Second)
	for {
		f, err := os.Open(lfs.LuxPath())
		if err == nil {
			f.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("open after release: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestE2EReadOnly(t *testing.T) {
	requireFuse(t)
	lfs := StartLuxFS(t)
	defer lfs.Stop()

	if f, err := os.OpenFile(lfs.LuxPath(), os.O_WRONLY, 0); err == nil {
		f.Close()
		t.Fatal("write open succeeded")
	}
	if f, err := os.OpenFile(lfs.LuxPath(), os.O_RDONLY|os.O_TRUNC, 0); err == nil {
		f.Close()
		t.Fatal("truncating open succeeded")
	}
	if err := os.WriteFile(filepath.Join(lfs.MountDir, "bh1750", "new"), []byte("x"), 0o644); err == nil {
		t.Fatal("create succeeded")
	}
	if err := os.Remove(lfs.LuxPath()); err == nil {
		t.Fatal("remove succeeded")
	}
	if err := os.Mkdir(filepath.Join(lfs.MountDir, "extra"), 0o755); err == nil {
		t.Fatal("mkdir succeeded")
	}

	data, err := os.ReadFile(lfs.LuxPath())
	if err != nil || !luxLine.Match(data) {
		t.Fatalf("lux unreadable after refused mutations: %q %v", data, err)
	}
}

func TestE2ESignalShutdown(t *testing.T) {
	requireFuse(t)
	lfs := StartLuxFS(t)

	if err := lfs.Stop(); err != nil {
		stdout, stderr := lfs.GetLogs()
		t.Fatalf("exit after SIGINT: %v\nstdout:\n%s\nstderr:\n%s", err, stdout, stderr)
	}
	if isMounted(lfs.MountDir) {
		t.Fatal("mount still present after shutdown")
	}
}

func TestE2EExternalUnmount(t *testing.T) {
	requireFuse(t)
	lfs := StartLuxFS(t)
	defer lfs.Stop()

	if out, err := exec.Command(fusermountBin(), "-u", lfs.MountDir).CombinedOutput(); err != nil {
		t.Fatalf("fusermount -u: %v: %s", err, out)
	}

	select {
	case <-lfs.done:
		if err := lfs.waitErr; err != nil {
			t.Fatalf("exit after external unmount: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process kept running after external unmount")
	}
}

func TestE2EUsageError(t *testing.T) {
	for _, args := range [][]string{{"--bogus"}, {"positional"}} {
		cmd := exec.Command(luxfsBin, args...)
		err := cmd.Run()
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 2 {
			t.Fatalf("args %v: err = %v, want exit status 2", args, err)
		}
	}
}

func TestE2EDeviceUnavailable(t *testing.T) {
	mountDir := filepath.Join(baseDir, "mount-nodevice")
	if err := os.MkdirAll(mountDir, 0o755); err != nil {
		t.Fatal(err)
	}
	// bus 250 does not exist on any test host
	cmd := exec.Command(luxfsBin, "-b", "250", "-m", mountDir)
	err := cmd.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
		t.Fatalf("err = %v, want exit status 1", err)
	}
	if isMounted(mountDir) {
		t.Fatal("mounted despite device failure")
	}
}

// LuxFSInstance is one running luxfs process on the simulated bus
type LuxFSInstance struct {
	cmd      *exec.Cmd
	MountDir string
	SrvName  string
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
	done     chan struct{} // closed once the process has exited
	waitErr  error         // valid after done is closed
	cleanup  func()
}

// StartLuxFS starts luxfs on the simulated bus with extra args appended
func StartLuxFS(t *testing.T, extra ...string) *LuxFSInstance {
	t.Helper()

	testID := strings.ReplaceAll(t.Name(), "/", "_")
	mountDir := filepath.Join(baseDir, fmt.Sprintf("mount-%s", testID))
	if err := os.MkdirAll(mountDir, 0o755); err != nil {
		t.Fatalf("Failed to create mount dir: %v", err)
	}

	srvName := "bh1750"
	for i, a := range extra {
		if (a == "-s" || a == "--srvname") && i+1 < len(extra) {
			srvName = extra[i+1]
		}
	}

	args := append([]string{"-b", "sim", "-m", mountDir, "-v", "4"}, extra...)
	cmd := exec.Command(luxfsBin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start luxfs: %v", err)
	}

	instance := &LuxFSInstance{
		cmd:      cmd,
		MountDir: mountDir,
		SrvName:  srvName,
		stdout:   &stdout,
		stderr:   &stderr,
		done:     make(chan struct{}),
		cleanup: func() {
			_ = os.RemoveAll(mountDir) // Best effort cleanup
		},
	}
	go func() {
		instance.waitErr = cmd.Wait()
		close(instance.done)
	}()

	// Wait for mount to be ready
	if err := instance.WaitForMount(15 * time.Second); err != nil {
		_ = instance.Stop()
		_, errLog := instance.GetLogs()
		t.Fatalf("luxfs mount failed: %v\n%s", err, errLog)
	}

	return instance
}

func (l *LuxFSInstance) LuxPath() string {
	return filepath.Join(l.MountDir, l.SrvName, "lux")
}

// Stop sends SIGINT and waits for the process, returning its exit error
func (l *LuxFSInstance) Stop() error {
	if l.cmd != nil && l.cmd.Process != nil {
		// Process may have already exited
		_ = l.cmd.Process.Signal(os.Interrupt)

		select {
		case <-l.done:
		case <-time.After(5 * time.Second):
			// Force kill if graceful shutdown takes too long
			_ = l.cmd.Process.Kill()
			<-l.done
		}
	}

	if l.cleanup != nil {
		l.cleanup()
		l.cleanup = nil
	}
	return l.waitErr
}

// WaitForMount waits for the srv directory to appear under the mount
func (l *LuxFSInstance) WaitForMount(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(l.MountDir, l.SrvName)); err == nil {
			return nil
		}
		select {
		case <-l.done:
			return fmt.Errorf("luxfs exited before mounting: %v", l.waitErr)
		default:
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("timeout waiting for luxfs mount to be ready")
}

// GetLogs returns the stdout and stderr from the luxfs process
func (l *LuxFSInstance) GetLogs() (stdout, stderr string) {
	return l.stdout.String(), l.stderr.String()
}

func isMounted(dir string) bool {
	data, err := os.ReadFile("/proc/self/mounts")
	if err != nil {
		return false
	}
	abs, _ := filepath.Abs(dir)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 1 && fields[1] == abs {
			return true
		}
	}
	return false
}

func fusermountBin() string {
	if _, err := exec.LookPath("fusermount"); err == nil {
		return "fusermount"
	}
	return "fusermount3"
}

func names(entries []os.DirEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}
