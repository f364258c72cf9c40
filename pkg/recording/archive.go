package recording

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/robot"
)

// ArchiveExt is the file extension of recording archives.
const ArchiveExt = ".npz"

// Archive member names, without the .npy suffix.
const (
	memberEnvName       = "env_name"
	memberControlMethod = "control_method"
	memberNumEpisodes   = "num_episodes"
	memberTimestamp     = "timestamp"
	memberSessionID     = "session_id"
)

func episodeMember(i int, field string) string {
	return fmt.Sprintf("episode_%d_%s", i, field)
}

func imageMember(i int, cam env.Camera) string {
	return episodeMember(i, "images_"+string(cam))
}

// ArchiveName is the file name of a session archive.
func ArchiveName(envName, method, timestamp string) string {
	return fmt.Sprintf("%s_%s_%s%s", envName, method, timestamp, ArchiveExt)
}

// WriteArchive writes s as an .npz archive: a deflate compressed zip with
// one .npy member per array.
func WriteArchive(w io.Writer, s *Session) error {
	zw := zip.NewWriter(w)
	modified := s.CreatedAt
	if modified.IsZero() {
		modified = time.Now()
	}

	put := func(name, descr string, shape []int, data []byte) error {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name + ".npy",
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if err := writeNPY(fw, descr, shape, data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		return nil
	}
	putString := func(name, value string) error {
		descr, data := unicodeBytes(value)
		return put(name, descr, nil, data)
	}

	if err := putString(memberEnvName, s.EnvName); err != nil {
		return err
	}
	if err := putString(memberControlMethod, s.ControlMethod); err != nil {
		return err
	}
	if err := put(memberNumEpisodes, "<i8", nil, int64Bytes(int64(len(s.Episodes)))); err != nil {
		return err
	}
	if err := putString(memberTimestamp, s.Timestamp); err != nil {
		return err
	}
	if s.ID != "" {
		if err := putString(memberSessionID, s.ID); err != nil {
			return err
		}
	}

	for i := range s.Episodes {
		ep := &s.Episodes[i]
		n := ep.Len()
		if len(ep.Observations) != n || len(ep.Rewards) != n || len(ep.Timestamps) != n {
			return fmt.Errorf("episode %d: step sequences differ in length", i)
		}
		if err := put(episodeMember(i, "observations"), "<f8", []int{n, robot.NumJoints}, jointBytes(ep.Observations)); err != nil {
			return err
		}
		if err := put(episodeMember(i, "actions"), "<f8", []int{n, robot.NumJoints}, jointBytes(ep.Actions)); err != nil {
			return err
		}
		if err := put(episodeMember(i, "rewards"), "<f8", []int{n}, float64Bytes(ep.Rewards)); err != nil {
			return err
		}
		if err := put(episodeMember(i, "timestamps"), "<f8", []int{n}, float64Bytes(ep.Timestamps)); err != nil {
			return err
		}
		for _, cam := range sortedCameras(ep.Images) {
			stack := ep.Images[cam]
			if stack.Len() != n {
				return fmt.Errorf("episode %d: %s camera has %d frames for %d steps", i, cam, stack.Len(), n)
			}
			shape := []int{n, stack.Height, stack.Width, 3}
			if err := put(imageMember(i, cam), "|u1", shape, stack.Pix); err != nil {
				return err
			}
		}
	}
	return zw.Close()
}

func jointBytes(rows []robot.Joints) []byte {
	flat := make([]float64, 0, len(rows)*robot.NumJoints)
	for _, r := range rows {
		flat = append(flat, r[:]...)
	}
	return float64Bytes(flat)
}

func sortedCameras(images map[env.Camera]*ImageStack) []env.Camera {
	cams := make([]env.Camera, 0, len(images))
	for cam, stack := range images {
		if stack != nil {
			cams = append(cams, cam)
		}
	}
	sort.Slice(cams, func(i, j int) bool { return cams[i] < cams[j] })
	return cams
}

// ReadOptions controls how much of an archive ReadArchive decodes.
type ReadOptions struct {
	// Images decodes camera frames. Replay does not need them.
	Images bool
}

// Header is the archive metadata readable without decoding trajectories.
type Header struct {
	EnvName       string
	ControlMethod string
	NumEpisodes   int
	Timestamp     string
	SessionID     string
	// EpisodeSteps holds the step count of each episode, taken from the
	// observation array shapes.
	EpisodeSteps []int
}

// TotalSteps sums EpisodeSteps.
func (h Header) TotalSteps() int {
	n := 0
	for _, s := range h.EpisodeSteps {
		n += s
	}
	return n
}

// Time parses Timestamp.
func (h Header) Time() (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, h.Timestamp, time.Local)
}

type archiveReader struct {
	path    string
	size    int64
	members map[string]*zip.File
}

// maxDeflateRatio bounds how far a deflated member can expand.
const maxDeflateRatio = 1032

func openArchive(path string) (*zip.ReadCloser, *archiveReader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrMalformedArchive, path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		zr.Close()
		return nil, nil, err
	}
	ar := &archiveReader{path: path, size: info.Size(), members: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		name := strings.TrimSuffix(f.Name, ".npy")
		ar.members[name] = f
	}
	return zr, ar, nil
}

func (a *archiveReader) malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedArchive, a.path, fmt.Sprintf(format, args...))
}

// open returns the header and a reader positioned at the data of member name.
func (a *archiveReader) open(name string) (npyHeader, io.ReadCloser, error) {
	f, ok := a.members[name]
	if !ok {
		return npyHeader{}, nil, a.malformed("missing member %s", name)
	}
	if err := a.checkSize(f); err != nil {
		return npyHeader{}, nil, a.malformed("%s: %v", name, err)
	}
	rc, err := f.Open()
	if err != nil {
		return npyHeader{}, nil, a.malformed("open %s: %v", name, err)
	}
	h, err := readNPYHeader(rc)
	if err != nil {
		rc.Close()
		return npyHeader{}, nil, a.malformed("%s: %v", name, err)
	}
	want, err := h.dataLen()
	if err != nil {
		rc.Close()
		return npyHeader{}, nil, a.malformed("%s: %v", name, err)
	}
	if got := int64(f.UncompressedSize64) - h.offset; got != want {
		rc.Close()
		return npyHeader{}, nil, a.malformed("%s: %s declares %d data bytes, member holds %d", name, h, want, got)
	}
	return h, rc, nil
}

// checkSize rejects members whose recorded sizes cannot be real, so that
// the declared data length can be trusted for allocation.
func (a *archiveReader) checkSize(f *zip.File) error {
	if f.CompressedSize64 > uint64(a.size) {
		return fmt.Errorf("compressed size %d exceeds archive size %d", f.CompressedSize64, a.size)
	}
	limit := f.CompressedSize64
	if f.Method != zip.Store {
		limit = limit*maxDeflateRatio + 1024
	}
	if f.UncompressedSize64 > limit {
		return fmt.Errorf("uncompressed size %d implausible for %d compressed bytes", f.UncompressedSize64, f.CompressedSize64)
	}
	return nil
}

func (a *archiveReader) header(name string) (npyHeader, error) {
	h, rc, err := a.open(name)
	if err != nil {
		return h, err
	}
	rc.Close()
	return h, nil
}

func (a *archiveReader) has(name string) bool {
	_, ok := a.members[name]
	return ok
}

func (a *archiveReader) text(name string) (string, error) {
	h, rc, err := a.open(name)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	s, err := readString(h, rc)
	if err != nil {
		return "", a.malformed("%s: %v", name, err)
	}
	return s, nil
}

func (a *archiveReader) integer(name string) (int, error) {
	h, rc, err := a.open(name)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	v, err := readInt(h, rc)
	if err != nil {
		return 0, a.malformed("%s: %v", name, err)
	}
	return int(v), nil
}

func (a *archiveReader) floats(name string, rank int) (npyHeader, []float64, error) {
	h, rc, err := a.open(name)
	if err != nil {
		return h, nil, err
	}
	defer rc.Close()
	if len(h.Shape) != rank {
		return h, nil, a.malformed("%s: expected %d dimensions, got shape %v", name, rank, h.Shape)
	}
	vals, err := readFloat64s(h, rc)
	if err != nil {
		return h, nil, a.malformed("%s: %v", name, err)
	}
	return h, vals, nil
}

func (a *archiveReader) joints(name string) ([]robot.Joints, error) {
	h, vals, err := a.floats(name, 2)
	if err != nil {
		return nil, err
	}
	if h.Shape[1] != robot.NumJoints || len(vals) != h.Shape[0]*robot.NumJoints {
		return nil, a.malformed("%s: expected %d joints per row, got shape %v", name, robot.NumJoints, h.Shape)
	}
	rows := make([]robot.Joints, h.Shape[0])
	for i := range rows {
		rows[i] = robot.JointsFromSlice(vals[i*robot.NumJoints : (i+1)*robot.NumJoints])
	}
	return rows, nil
}

func (a *archiveReader) images(name string) (*ImageStack, error) {
	h, rc, err := a.open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if len(h.Shape) != 4 || h.Shape[3] != 3 {
		return nil, a.malformed("%s: expected (n, h, w, 3) images, got shape %v", name, h.Shape)
	}
	pix, err := readUint8s(h, rc)
	if err != nil {
		return nil, a.malformed("%s: %v", name, err)
	}
	return &ImageStack{Height: h.Shape[1], Width: h.Shape[2], Pix: pix}, nil
}

func (a *archiveReader) readHeader() (Header, error) {
	var h Header
	var err error
	if h.EnvName, err = a.text(memberEnvName); err != nil {
		return h, err
	}
	if h.ControlMethod, err = a.text(memberControlMethod); err != nil {
		return h, err
	}
	if h.NumEpisodes, err = a.integer(memberNumEpisodes); err != nil {
		return h, err
	}
	if h.NumEpisodes < 0 {
		return h, a.malformed("negative episode count %d", h.NumEpisodes)
	}
	if h.Timestamp, err = a.text(memberTimestamp); err != nil {
		return h, err
	}
	if a.has(memberSessionID) {
		if h.SessionID, err = a.text(memberSessionID); err != nil {
			return h, err
		}
	}
	return h, nil
}

// ReadHeader reads archive metadata and per-episode step counts. Only the
// .npy headers of the observation arrays are decoded.
func ReadHeader(path string) (Header, error) {
	zr, ar, err := openArchive(path)
	if err != nil {
		return Header{}, err
	}
	defer zr.Close()

	h, err := ar.readHeader()
	if err != nil {
		return h, err
	}
	h.EpisodeSteps = make([]int, h.NumEpisodes)
	for i := range h.EpisodeSteps {
		name := episodeMember(i, "observations")
		nh, err := ar.header(name)
		if err != nil {
			return h, err
		}
		if len(nh.Shape) == 0 {
			return h, ar.malformed("%s: scalar observations", name)
		}
		h.EpisodeSteps[i] = nh.Shape[0]
	}
	return h, nil
}

// ReadArchive decodes a session archive. Unknown members are ignored.
func ReadArchive(path string, opts ReadOptions) (*Session, error) {
	zr, ar, err := openArchive(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	h, err := ar.readHeader()
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:            h.SessionID,
		EnvName:       h.EnvName,
		ControlMethod: h.ControlMethod,
		Timestamp:     h.Timestamp,
		Episodes:      make([]Episode, h.NumEpisodes),
	}
	if t, err := h.Time(); err == nil {
		s.CreatedAt = t
	} else if info, err := os.Stat(path); err == nil {
		s.CreatedAt = info.ModTime()
	}

	for i := range s.Episodes {
		ep, err := ar.readEpisode(i, opts)
		if err != nil {
			return nil, err
		}
		s.Episodes[i] = ep
	}
	return s, nil
}

func (a *archiveReader) readEpisode(i int, opts ReadOptions) (Episode, error) {
	var ep Episode
	var err error
	if ep.Observations, err = a.joints(episodeMember(i, "observations")); err != nil {
		return ep, err
	}
	if ep.Actions, err = a.joints(episodeMember(i, "actions")); err != nil {
		return ep, err
	}
	if _, ep.Rewards, err = a.floats(episodeMember(i, "rewards"), 1); err != nil {
		return ep, err
	}
	if _, ep.Timestamps, err = a.floats(episodeMember(i, "timestamps"), 1); err != nil {
		return ep, err
	}
	n := len(ep.Actions)
	if len(ep.Observations) != n || len(ep.Rewards) != n || len(ep.Timestamps) != n {
		return ep, a.malformed("episode %d: observations %d, actions %d, rewards %d, timestamps %d differ in length",
			i, len(ep.Observations), n, len(ep.Rewards), len(ep.Timestamps))
	}
	if !opts.Images {
		return ep, nil
	}
	for _, cam := range []env.Camera{env.CameraFront, env.CameraTop} {
		name := imageMember(i, cam)
		if !a.has(name) {
			continue
		}
		stack, err := a.images(name)
		if err != nil {
			return ep, err
		}
		if stack.Len() != n {
			return ep, a.malformed("%s: %d frames for %d steps", name, stack.Len(), n)
		}
		if ep.Images == nil {
			ep.Images = make(map[env.Camera]*ImageStack)
		}
		ep.Images[cam] = stack
	}
	return ep, nil
}
