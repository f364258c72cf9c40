package recording

import (
	"archive/zip"
	"bytes"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/robot"
)

// stepClock advances by step on every reading.
type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestRecorder(t *testing.T, dir string) (*Recorder, *stepClock) {
	t.Helper()
	clock := &stepClock{t: time.Date(2025, 3, 14, 15, 9, 26, 0, time.Local), step: 20 * time.Millisecond}
	rec := NewRecorder(RecorderConfig{
		EnvName:       "LiftCube-v0",
		ControlMethod: "keyboard",
		Dir:           dir,
		Now:           clock.Now,
	})
	return rec, clock
}

func joints(base float64) robot.Joints {
	return robot.Joints{base, base + 0.1, base + 0.2, base + 0.3, base + 0.4, base - 0.5}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestRecorder_FiveStepEpisode(t *testing.T) {
	dir := t.TempDir()
	rec, _ := newTestRecorder(t, dir)

	rec.StartEpisode()
	for i := 0; i < 5; i++ {
		rec.RecordStep(env.Observation{ArmQpos: joints(float64(i) / 10)}, joints(float64(i)/10+0.05), float64(i))
	}
	rec.EndEpisode()

	if got := rec.TotalSteps(); got != 5 {
		t.Fatalf("TotalSteps() = %d, want 5", got)
	}
	path, err := rec.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if want := "LiftCube-v0_keyboard_"; !strings.HasPrefix(filepath.Base(path), want) || filepath.Ext(path) != ArchiveExt {
		t.Errorf("archive name %q", filepath.Base(path))
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	var found bool
	for _, f := range zr.File {
		if f.Name != "episode_0_actions.npy" {
			continue
		}
		found = true
		if f.Method != zip.Deflate {
			t.Errorf("member stored with method %d, want deflate", f.Method)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		h, err := readNPYHeader(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		if h.Descr != "<f8" || len(h.Shape) != 2 || h.Shape[0] != 5 || h.Shape[1] != 6 {
			t.Errorf("episode_0_actions header = %+v, want <f8 (5, 6)", h)
		}
	}
	if !found {
		t.Fatal("archive has no episode_0_actions member")
	}
}

func TestRecorder_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	rec, _ := newTestRecorder(t, dir)

	lengths := []int{3, 1, 4}
	for e, n := range lengths {
		rec.StartEpisode()
		for i := 0; i < n; i++ {
			v := float64(e) + float64(i)/7
			rec.RecordStep(env.Observation{ArmQpos: joints(v)}, joints(-v/3), v*1.5)
		}
		rec.EndEpisode()
	}
	path, err := rec.Save()
	if err != nil {
		t.Fatal(err)
	}

	got, err := ReadArchive(path, ReadOptions{})
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if got.EnvName != "LiftCube-v0" || got.ControlMethod != "keyboard" || got.ID != rec.SessionID() {
		t.Errorf("metadata = %q %q %q", got.EnvName, got.ControlMethod, got.ID)
	}
	if len(got.Episodes) != len(lengths) {
		t.Fatalf("episodes = %d, want %d", len(got.Episodes), len(lengths))
	}
	want := rec.Episodes()
	for e := range lengths {
		g, w := got.Episodes[e], want[e]
		if g.Len() != lengths[e] {
			t.Fatalf("episode %d has %d steps, want %d", e, g.Len(), lengths[e])
		}
		for i := 0; i < g.Len(); i++ {
			if g.Actions[i] != w.Actions[i] || g.Observations[i] != w.Observations[i] ||
				g.Rewards[i] != w.Rewards[i] || g.Timestamps[i] != w.Timestamps[i] {
				t.Fatalf("episode %d step %d differs after round trip", e, i)
			}
		}
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.NumEpisodes != 3 || h.TotalSteps() != 8 || h.Timestamp != got.Timestamp {
		t.Errorf("header = %+v", h)
	}
}

func TestRecorder_TimestampsAreEpisodeRelative(t *testing.T) {
	rec, _ := newTestRecorder(t, t.TempDir())
	for e := 0; e < 2; e++ {
		rec.StartEpisode()
		rec.RecordStep(env.Observation{}, robot.Joints{}, 0)
		rec.RecordStep(env.Observation{}, robot.Joints{}, 0)
		rec.EndEpisode()
	}
	for _, ep := range rec.Episodes() {
		if len(ep.Timestamps) != 2 || ep.Timestamps[0] != 0.02 || ep.Timestamps[1] != 0.04 {
			t.Errorf("timestamps = %v, want [0.02 0.04]", ep.Timestamps)
		}
	}
}

func TestRecorder_DropsEmptyEpisodes(t *testing.T) {
	rec, _ := newTestRecorder(t, t.TempDir())
	rec.RecordStep(env.Observation{}, robot.Joints{}, 1) // implicit start
	rec.EndEpisode()

	rec.StartEpisode()
	rec.EndEpisode()
	rec.EndEpisode()

	if len(rec.Episodes()) != 1 {
		t.Fatalf("episodes = %d, want 1", len(rec.Episodes()))
	}
}

func TestRecorder_StartEpisodeDiscardsOpenBuffer(t *testing.T) {
	rec, _ := newTestRecorder(t, t.TempDir())
	rec.StartEpisode()
	rec.RecordStep(env.Observation{}, robot.Joints{}, 1)
	rec.StartEpisode()
	rec.EndEpisode()
	if len(rec.Episodes()) != 0 {
		t.Fatalf("unfinished episode was kept")
	}
}

func TestRecorder_SaveWithoutEpisodes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	rec, _ := newTestRecorder(t, dir)
	rec.StartEpisode()
	rec.EndEpisode()

	path, err := rec.Save()
	if !errors.Is(err, ErrNoEpisodes) || path != "" {
		t.Fatalf("Save() = %q, %v; want ErrNoEpisodes", path, err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("data directory should not be created, stat err = %v", err)
	}
}

func TestRecorder_NameCollision(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 3; i++ {
		rec, _ := newTestRecorder(t, dir)
		rec.RecordStep(env.Observation{}, robot.Joints{}, 0)
		rec.EndEpisode()
		path, err := rec.Save()
		if err != nil {
			t.Fatal(err)
		}
		paths = append(paths, filepath.Base(path))
	}
	if paths[0] == paths[1] || paths[1] == paths[2] {
		t.Fatalf("archives overwrote each other: %v", paths)
	}
	if !strings.HasSuffix(paths[1], "_2.npz") || !strings.HasSuffix(paths[2], "_3.npz") {
		t.Errorf("suffixes = %v", paths)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestRecorder_PersistFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec, _ := newTestRecorder(t, blocker)
	rec.RecordStep(env.Observation{}, robot.Joints{}, 0)
	rec.EndEpisode()

	if _, err := rec.Save(); !errors.Is(err, ErrPersist) {
		t.Fatalf("Save() err = %v, want ErrPersist", err)
	}
}

func TestRecorder_Images(t *testing.T) {
	dir := t.TempDir()
	rec, _ := newTestRecorder(t, dir)
	red := color.RGBA{R: 200, A: 255}

	rec.StartEpisode()
	rec.RecordStep(env.Observation{Images: map[env.Camera]*image.RGBA{env.CameraFront: solid(4, 3, red)}}, robot.Joints{}, 0)
	rec.RecordStep(env.Observation{}, robot.Joints{}, 0)
	rec.RecordStep(env.Observation{Images: map[env.Camera]*image.RGBA{
		env.CameraFront: solid(8, 8, red),
		env.CameraTop:   solid(4, 3, red),
	}}, robot.Joints{}, 0)
	rec.RecordStep(env.Observation{Images: map[env.Camera]*image.RGBA{env.CameraFront: solid(4, 3, red)}}, robot.Joints{}, 0)
	rec.EndEpisode()

	path, err := rec.Save()
	if err != nil {
		t.Fatal(err)
	}
	s, err := ReadArchive(path, ReadOptions{Images: true})
	if err != nil {
		t.Fatal(err)
	}
	ep := s.Episodes[0]
	if _, ok := ep.Images[env.CameraTop]; ok {
		t.Error("top camera absent on the first step must be absent for the episode")
	}
	front := ep.Images[env.CameraFront]
	if front == nil || front.Len() != 4 || front.Width != 4 || front.Height != 3 {
		t.Fatalf("front stack = %+v", front)
	}
	for i, wantRed := range []uint8{200, 0, 0, 200} {
		if got := front.Frame(i).RGBAAt(1, 1).R; got != wantRed {
			t.Errorf("frame %d red = %d, want %d", i, got, wantRed)
		}
	}

	noImages, err := ReadArchive(path, ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if noImages.Episodes[0].Images != nil {
		t.Error("images decoded without being requested")
	}
}

func TestWriteNPY_HeaderAlignment(t *testing.T) {
	for _, shape := range [][]int{nil, {5}, {5, 6}, {120, 48, 64, 3}} {
		var buf bytes.Buffer
		if err := writeNPY(&buf, "<f8", shape, nil); err != nil {
			t.Fatal(err)
		}
		if buf.Len()%npyAlignment != 0 {
			t.Errorf("shape %v: header length %d not aligned", shape, buf.Len())
		}
		if buf.Bytes()[buf.Len()-1] != '\n' {
			t.Errorf("shape %v: header does not end in newline", shape)
		}
		h, err := readNPYHeader(&buf)
		if err != nil {
			t.Fatalf("shape %v: %v", shape, err)
		}
		if len(h.Shape) != len(shape) || h.Descr != "<f8" || h.FortranOrder {
			t.Errorf("parsed header %+v for shape %v", h, shape)
		}
	}
}

func TestParseNPYDict(t *testing.T) {
	h, err := parseNPYDict("{'descr': '<f4', 'fortran_order': False, 'shape': (2, 6), }          \n")
	if err != nil {
		t.Fatal(err)
	}
	if h.Descr != "<f4" || h.count() != 12 {
		t.Errorf("header = %+v", h)
	}
	if _, err := parseNPYDict("{'descr': '<f8', 'shape': (2,)}"); err == nil {
		t.Error("missing fortran_order should fail")
	}
	if _, err := parseNPYDict("not a dict"); err == nil {
		t.Error("garbage should fail")
	}
}

func TestReadString(t *testing.T) {
	descr, data := unicodeBytes("PushCube-v0")
	var buf bytes.Buffer
	if err := writeNPY(&buf, descr, nil, data); err != nil {
		t.Fatal(err)
	}
	h, err := readNPYHeader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := readString(h, &buf)
	if err != nil || got != "PushCube-v0" {
		t.Errorf("readString = %q, %v", got, err)
	}
}

// numpyArchive builds an archive the way numpy would for float32 data,
// plus a member this package does not know about.
func numpyArchive(t *testing.T, mutate func(members map[string][]byte)) string {
	t.Helper()
	npy := func(descr string, shape []int, data []byte) []byte {
		var b bytes.Buffer
		if err := writeNPY(&b, descr, shape, data); err != nil {
			t.Fatal(err)
		}
		return b.Bytes()
	}
	str := func(s string) []byte {
		d, data := unicodeBytes(s)
		return npy(d, nil, data)
	}
	f32 := func(vals ...float32) []byte {
		var b bytes.Buffer
		for _, v := range vals {
			var le [4]byte
			bits := math.Float32bits(v)
			le[0], le[1], le[2], le[3] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
			b.Write(le[:])
		}
		return b.Bytes()
	}
	i32 := []byte{1, 0, 0, 0}

	members := map[string][]byte{
		"env_name":               str("ReachCube-v0"),
		"control_method":         str("controller"),
		"num_episodes":           npy("<i4", nil, i32),
		"timestamp":              str("20240102_030405"),
		"episode_0_observations": npy("<f4", []int{2, 6}, f32(0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11)),
		"episode_0_actions":      npy("<f4", []int{2, 6}, f32(1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2)),
		"episode_0_rewards":      npy("<f4", []int{2}, f32(0.5, 1)),
		"episode_0_timestamps":   npy("<f4", []int{2}, f32(0, 0.25)),
		"episode_0_extra":        npy("<f8", []int{0}, nil),
	}
	if mutate != nil {
		mutate(members)
	}

	path := filepath.Join(t.TempDir(), "ReachCube-v0_controller_20240102_030405.npz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, data := range members {
		w, err := zw.Create(name + ".npy")
		if err != nil {
			t.Fatal(err)
		}
		w.Write(data)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return path
}

func TestReadArchive_NumpyTypes(t *testing.T) {
	s, err := ReadArchive(numpyArchive(t, nil), ReadOptions{})
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if s.EnvName != "ReachCube-v0" || len(s.Episodes) != 1 {
		t.Fatalf("session = %+v", s)
	}
	ep := s.Episodes[0]
	if ep.Observations[1][5] != 11 || ep.Actions[1][0] != 2 || ep.Rewards[0] != 0.5 || ep.Timestamps[1] != 0.25 {
		t.Errorf("episode = %+v", ep)
	}
	if s.CreatedAt.Year() != 2024 {
		t.Errorf("CreatedAt = %v", s.CreatedAt)
	}
}

func TestReadArchive_Malformed(t *testing.T) {
	notZip := filepath.Join(t.TempDir(), "broken.npz")
	if err := os.WriteFile(notZip, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"not a zip": notZip,
		"missing member": numpyArchive(t, func(m map[string][]byte) {
			delete(m, "episode_0_actions")
		}),
		"length mismatch": numpyArchive(t, func(m map[string][]byte) {
			var b bytes.Buffer
			writeNPY(&b, "<f8", []int{1}, make([]byte, 8))
			m["episode_0_rewards"] = b.Bytes()
		}),
		"truncated data": numpyArchive(t, func(m map[string][]byte) {
			m["episode_0_timestamps"] = m["episode_0_timestamps"][:70]
		}),
		"huge string width": numpyArchive(t, func(m map[string][]byte) {
			var b bytes.Buffer
			writeNPY(&b, "<U4611686018427387904", nil, make([]byte, 4))
			m["env_name"] = b.Bytes()
		}),
		"huge row count": numpyArchive(t, func(m map[string][]byte) {
			var b bytes.Buffer
			writeNPY(&b, "<f4", []int{4611686018427387904, 6}, make([]byte, 48))
			m["episode_0_observations"] = b.Bytes()
		}),
		"overflowing shape": numpyArchive(t, func(m map[string][]byte) {
			var b bytes.Buffer
			writeNPY(&b, "<f4", []int{1 << 32, 1 << 32}, make([]byte, 8))
			m["episode_0_rewards"] = b.Bytes()
		}),
	}
	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadArchive(path, ReadOptions{}); !errors.Is(err, ErrMalformedArchive) {
				t.Fatalf("err = %v, want ErrMalformedArchive", err)
			}
		})
	}
}

func TestReadHeader_OversizedDeclarations(t *testing.T) {
	path := numpyArchive(t, func(m map[string][]byte) {
		var b bytes.Buffer
		writeNPY(&b, "<U4611686018427387904", nil, make([]byte, 4))
		m["env_name"] = b.Bytes()
	})
	if _, err := ReadHeader(path); !errors.Is(err, ErrMalformedArchive) {
		t.Fatalf("err = %v, want ErrMalformedArchive", err)
	}
}

func TestNPYHeader_DataLen(t *testing.T) {
	tests := []struct {
		h       npyHeader
		want    int64
		wantErr bool
	}{
		{h: npyHeader{Descr: "<f8", Shape: []int{5, 6}}, want: 240},
		{h: npyHeader{Descr: "<U3"}, want: 12},
		{h: npyHeader{Descr: "|u1", Shape: []int{0, 48, 64, 3}}, want: 0},
		{h: npyHeader{Descr: "<U4611686018427387904"}, wantErr: true},
		{h: npyHeader{Descr: "<f8", Shape: []int{1 << 62, 2}}, wantErr: true},
		{h: npyHeader{Descr: "<f8", Shape: []int{1 << 61}}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := tt.h.dataLen()
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("%s.dataLen() = %d, %v; want %d (err %v)", tt.h, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestArchiveReader_ImplausibleMemberSize(t *testing.T) {
	var data bytes.Buffer
	writeNPY(&data, "<f8", []int{1}, make([]byte, 8))

	path := filepath.Join(t.TempDir(), "lying.npz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               "num_episodes.npy",
		Method:             zip.Store,
		CompressedSize64:   uint64(data.Len()),
		UncompressedSize64: 1 << 40,
	})
	if err != nil {
		t.Fatal(err)
	}
	w.Write(data.Bytes())
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	zr, ar, err := openArchive(path)
	if err != nil {
		t.Fatalf("openArchive: %v", err)
	}
	defer zr.Close()
	if _, err := ar.integer(memberNumEpisodes); !errors.Is(err, ErrMalformedArchive) {
		t.Fatalf("err = %v, want ErrMalformedArchive", err)
	}
}
