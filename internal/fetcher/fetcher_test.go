package fetcher

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/retroscrape/internal/storage"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func assertNoScratch(t *testing.T, dir string) {
	t.Helper()
	for _, pattern := range []string{".unpack-*", "*.part", "*.aria2"} {
		left, err := filepath.Glob(filepath.Join(dir, pattern))
		require.NoError(t, err)
		assert.Empty(t, left, pattern)
	}
}

func TestParseLine(t *testing.T) {
	ev := ParseLine("[#2089b0 1048576B/4194304B(25%) CN:4 DL:524288B ETA:1m5s]")
	assert.EqualValues(t, 1048576, ev.Received)
	assert.EqualValues(t, 4194304, ev.Total)
	assert.Equal(t, 524288.0, ev.Speed)
	assert.Equal(t, "1m5s", ev.ETA)
	assert.Equal(t, 25.0, ev.Percent())
	assert.Empty(t, ev.Message)

	ev = ParseLine("[#2089b0 10B/20B CN:1 DL:5B ETA:7s]")
	assert.Equal(t, "0m7s", ev.ETA)

	ev = ParseLine("[#2089b0 0B/0B CN:1 DL:0B]")
	assert.Empty(t, ev.ETA)
	assert.Equal(t, 0.0, ev.Percent())

	ev = ParseLine("09/05 12:00:00 [NOTICE] Download complete: /roms/a.part")
	assert.Equal(t, "Download complete: /roms/a.part", ev.Message)

	ev = ParseLine("  Download Results:  ")
	assert.Equal(t, "Download Results:", ev.Message)
}

func TestAria2Args(t *testing.T) {
	a := NewAria2("", 0)
	assert.Equal(t, []string{
		"--continue",
		"--max-connection-per-server=4",
		"--human-readable=false",
		"--console-log-level=notice",
		"--file-allocation=none",
		"--dir=/roms",
		"--out=a.sfc.part",
		"http://host/a.zip",
	}, a.args("http://host/a.zip", "/roms", "a.sfc.part"))
}

func TestUnpackZipReplacesStub(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "Game (USA).sfc")
	require.NoError(t, os.WriteFile(dest, []byte("http://host/game.zip"), 0o644))
	src := dest + ".part"
	writeZip(t, src, map[string]string{"Game (USA).SFC": "rom bytes"})

	var events []Event
	require.NoError(t, Unpack(context.Background(), src, dest, func(ev Event) { events = append(events, ev) }))
	assert.Equal(t, "rom bytes", readFile(t, dest))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, TaskUnpack, last.Task)
	assert.EqualValues(t, len("rom bytes"), last.Received)
	assert.EqualValues(t, len("rom bytes"), last.Total)

	_ = os.Remove(src)
	assertNoScratch(t, dir)
}

func TestUnpackExtensionMismatchKeepsStub(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "Game.sfc")
	require.NoError(t, os.WriteFile(dest, []byte("http://host/game.zip"), 0o644))
	src := filepath.Join(dir, "download.bin")
	writeZip(t, src, map[string]string{"Game.smc": "rom bytes"})

	err := Unpack(context.Background(), src, dest, nil)
	assert.ErrorIs(t, err, ErrExtensionMismatch)
	assert.Equal(t, "http://host/game.zip", readFile(t, dest))
	assertNoScratch(t, dir)
}

func TestUnpackRejectsSeveralFiles(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "Game.sfc")
	src := filepath.Join(dir, "download.bin")
	writeZip(t, src, map[string]string{"a.sfc": "a", "b.sfc": "b"})

	err := Unpack(context.Background(), src, dest, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "holds 2 files")
}

func TestUnpackRejectsNonArchive(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "Game.sfc")
	require.NoError(t, os.WriteFile(dest, []byte("http://host/game.sfc"), 0o644))
	src := dest + ".part"
	// an error page served in place of the archive
	require.NoError(t, os.WriteFile(src, []byte("<html>503 Service Unavailable</html>"), 0o644))

	err := Unpack(context.Background(), src, dest, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, "http://host/game.sfc", readFile(t, dest))

	empty := filepath.Join(dir, "empty.part")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	assert.ErrorIs(t, Unpack(context.Background(), empty, dest, nil), ErrUnsupportedFormat)
	assert.Equal(t, "http://host/game.sfc", readFile(t, dest))

	_ = os.Remove(src)
	_ = os.Remove(empty)
	assertNoScratch(t, dir)
}

func TestPipelineNonArchiveKeepsStub(t *testing.T) {
	bin := t.TempDir()
	script := writeScript(t, bin, "aria2c", fakeAria2)
	page := filepath.Join(bin, "page.html")
	require.NoError(t, os.WriteFile(page, []byte("<html>not found</html>"), 0o644))
	t.Setenv("FAKE_ARIA2_SRC", page)

	dir := t.TempDir()
	stub := filepath.Join(dir, "Game.sfc")
	require.NoError(t, os.WriteFile(stub, []byte("http://host/Game.zip"), 0o644))

	err := NewPipeline(NewAria2(script, 1)).Resolve(context.Background(), stub, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, "http://host/Game.zip", readFile(t, stub))
	assertNoScratch(t, dir)
}

func TestUnpackKeepsArchiveRoms(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "sf2.zip")
	src := dest + ".part"
	writeZip(t, src, map[string]string{"a.bin": "a", "b.bin": "b"})

	require.NoError(t, Unpack(context.Background(), src, dest, nil))
	zr, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer zr.Close()
	assert.Len(t, zr.File, 2)
}

func TestReadStub(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(nil)

	stub := filepath.Join(dir, "a.sfc")
	require.NoError(t, os.WriteFile(stub, []byte("  https://host/a.zip\n"), 0o644))
	src, err := p.ReadStub(stub)
	require.NoError(t, err)
	assert.Equal(t, "https://host/a.zip", src)

	s3stub := filepath.Join(dir, "b.sfc")
	require.NoError(t, os.WriteFile(s3stub, []byte("s3://bucket/roms/b.zip"), 0o644))
	_, err = p.ReadStub(s3stub)
	assert.ErrorIs(t, err, ErrNotStub)
	src, err = NewPipeline(nil, WithStorage(&memoryStorage{})).ReadStub(s3stub)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/roms/b.zip", src)

	big := filepath.Join(dir, "c.sfc")
	require.NoError(t, os.WriteFile(big, []byte("http"+strings.Repeat("x", StubMaxSize)), 0o644))
	_, err = p.ReadStub(big)
	assert.ErrorIs(t, err, ErrNotStub)

	rom := filepath.Join(dir, "d.sfc")
	require.NoError(t, os.WriteFile(rom, []byte{0x00, 0x01}, 0o644))
	_, err = p.ReadStub(rom)
	assert.ErrorIs(t, err, ErrNotStub)
}

const fakeAria2 = `for a in "$@"; do
  case "$a" in
    --dir=*) dir="${a#--dir=}" ;;
    --out=*) out="${a#--out=}" ;;
  esac
done
echo "[#2089b0 512B/1024B(50%) CN:1 DL:256B ETA:2s]"
echo "09/05 12:00:00 [NOTICE] Download complete: $dir/$out"
cp "$FAKE_ARIA2_SRC" "$dir/$out"
`

func TestPipelineResolvesHTTPStub(t *testing.T) {
	bin := t.TempDir()
	script := writeScript(t, bin, "aria2c", fakeAria2)
	archive := filepath.Join(bin, "payload.zip")
	writeZip(t, archive, map[string]string{"Game.sfc": "downloaded rom"})
	t.Setenv("FAKE_ARIA2_SRC", archive)

	dir := t.TempDir()
	stub := filepath.Join(dir, "Game.sfc")
	require.NoError(t, os.WriteFile(stub, []byte("http://host/Game.zip"), 0o644))

	var events []Event
	p := NewPipeline(NewAria2(script, 2))
	require.NoError(t, p.Resolve(context.Background(), stub, func(ev Event) { events = append(events, ev) }))
	assert.Equal(t, "downloaded rom", readFile(t, stub))
	assertNoScratch(t, dir)

	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, TaskDownload, events[0].Task)
	assert.EqualValues(t, 512, events[0].Received)
	assert.Equal(t, "0m2s", events[0].ETA)
	assert.True(t, strings.HasPrefix(events[1].Message, "Download complete"))
	assert.Equal(t, TaskUnpack, events[len(events)-1].Task)

	// the rom is no longer a stub
	err := p.Resolve(context.Background(), stub, nil)
	assert.ErrorIs(t, err, ErrNotStub)
}

func TestPipelineStderrFailsDownload(t *testing.T) {
	script := writeScript(t, t.TempDir(), "aria2c", "echo 'resource not found' >&2\n")
	dir := t.TempDir()
	stub := filepath.Join(dir, "Game.sfc")
	require.NoError(t, os.WriteFile(stub, []byte("http://host/Game.zip"), 0o644))

	err := NewPipeline(NewAria2(script, 1)).Resolve(context.Background(), stub, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resource not found")
	assert.Equal(t, "http://host/Game.zip", readFile(t, stub))
	assertNoScratch(t, dir)
}

func TestPipelineExitCodeFailsDownload(t *testing.T) {
	script := writeScript(t, t.TempDir(), "aria2c", "exit 3\n")
	dir := t.TempDir()
	stub := filepath.Join(dir, "Game.sfc")
	require.NoError(t, os.WriteFile(stub, []byte("http://host/Game.zip"), 0o644))

	err := NewPipeline(NewAria2(script, 1)).Resolve(context.Background(), stub, nil)
	require.Error(t, err)
	assert.Equal(t, "aria2c exited with code 3", err.Error())
}

func TestPipelineStderrAndExitCodeAreBothReported(t *testing.T) {
	script := writeScript(t, t.TempDir(), "aria2c", "echo 'errorCode=3 Resource not found' >&2\nexit 22\n")
	dir := t.TempDir()
	stub := filepath.Join(dir, "Game.sfc")
	require.NoError(t, os.WriteFile(stub, []byte("http://host/Game.zip"), 0o644))

	err := NewPipeline(NewAria2(script, 1)).Resolve(context.Background(), stub, nil)
	require.Error(t, err)
	assert.Equal(t, "aria2c exited with code 22: errorCode=3 Resource not found", err.Error())
	assert.Equal(t, "http://host/Game.zip", readFile(t, stub))
	assertNoScratch(t, dir)
}

type memoryStorage struct {
	objects map[string][]byte
	keys    []string
}

func (m *memoryStorage) UploadFile(ctx context.Context, key, filePath, contentType string) error {
	return nil
}

func (m *memoryStorage) DownloadToFile(ctx context.Context, key, destPath string, fn storage.ProgressFunc) error {
	m.keys = append(m.keys, key)
	data, ok := m.objects[key]
	if !ok {
		return os.ErrNotExist
	}
	if fn != nil {
		fn(int64(len(data)), int64(len(data)))
	}
	return os.WriteFile(destPath, data, 0o644)
}

func (m *memoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func TestPipelineResolvesObjectStoreStub(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(t.TempDir(), "payload.zip")
	writeZip(t, archive, map[string]string{"Game.sfc": "from bucket"})
	data, err := os.ReadFile(archive)
	require.NoError(t, err)

	store := &memoryStorage{objects: map[string][]byte{"roms/snes/Game.zip": data}}
	stub := filepath.Join(dir, "Game.sfc")
	require.NoError(t, os.WriteFile(stub, []byte("s3://media/roms/snes/Game.zip"), 0o644))

	var downloaded []Event
	require.NoError(t, NewPipeline(nil, WithStorage(store)).Resolve(context.Background(), stub, func(ev Event) {
		if ev.Task == TaskDownload {
			downloaded = append(downloaded, ev)
		}
	}))
	assert.Equal(t, "from bucket", readFile(t, stub))
	require.Len(t, downloaded, 2)
	assert.Equal(t, "Downloading Game.zip", downloaded[1].Message)
	assert.EqualValues(t, len(data), downloaded[1].Received)
	assert.Equal(t, 100.0, downloaded[1].Percent())
	assert.Equal(t, []string{"roms/snes/Game.zip"}, store.keys)
	assertNoScratch(t, dir)
}

func TestParseArgs(t *testing.T) {
	args := ParseArgs([]string{"-p1index", "0", "-system", "snes", "-rom", `"C:\roms\a.sfc"`, "-dangling"})
	assert.Equal(t, map[string]string{"p1index": "0", "system": "snes", "rom": `"C:\roms\a.sfc"`}, args)
}

func TestLauncherExitCodes(t *testing.T) {
	l := NewLauncher("true", nil, nil)
	assert.Equal(t, ExitMissingRom, l.Launch(context.Background(), []string{"-system", "snes"}))
	assert.Equal(t, ExitRomNotFound, l.Launch(context.Background(), []string{"-rom", filepath.Join(t.TempDir(), "missing.sfc")}))
}

func TestLauncherRunsRealLauncher(t *testing.T) {
	bin := t.TempDir()
	record := filepath.Join(bin, "args.txt")
	launcher := writeScript(t, bin, "emulatorLauncher", `echo "$@" > "`+record+`"
exit 7
`)
	rom := filepath.Join(t.TempDir(), "a.sfc")
	require.NoError(t, os.WriteFile(rom, []byte{0x01, 0x02, 0x03}, 0o644))

	l := NewLauncher(launcher, NewPipeline(nil), nil)
	code := l.Launch(context.Background(), []string{"-system", "snes", "-rom", rom})
	assert.Equal(t, 7, code)
	assert.Equal(t, "-system snes -rom "+rom+"\n", readFile(t, record))
}

func TestLauncherStopsWhenDownloadFails(t *testing.T) {
	bin := t.TempDir()
	aria := writeScript(t, bin, "aria2c", "exit 1\n")
	marker := filepath.Join(bin, "ran")
	launcher := writeScript(t, bin, "emulatorLauncher", "touch \""+marker+"\"\n")
	rom := filepath.Join(t.TempDir(), "a.sfc")
	require.NoError(t, os.WriteFile(rom, []byte("http://host/a.zip"), 0o644))

	code := NewLauncher(launcher, NewPipeline(NewAria2(aria, 1)), nil).Launch(context.Background(), []string{"-rom", rom})
	assert.Equal(t, ExitFailure, code)
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err))
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "1m5s", formatETA(0, 650, 10))
	assert.Equal(t, "0m3s", formatETA(70, 100, 10))
	assert.Equal(t, "", formatETA(100, 100, 10))
	assert.Equal(t, "", formatETA(0, 100, 0))
}
