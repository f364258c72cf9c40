package recording

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/logging"
	"github.com/gwillem/armcollect/pkg/robot"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	EnvName       string
	ControlMethod string
	// Dir receives the archive; it is created on Save.
	Dir    string
	Logger *slog.Logger
	// Now defaults to time.Now. Timestamps use its monotonic reading.
	Now func() time.Time
}

// Recorder buffers steps into episodes and saves the session as one archive.
// It is used from the control loop goroutine only.
type Recorder struct {
	dir     string
	now     func() time.Time
	logger  *slog.Logger
	session Session

	current *episodeBuffer
}

// episodeBuffer is the open episode. Camera streams are fixed by the first
// step: a camera seen then gets a frame every step, black when missing.
type episodeBuffer struct {
	start   time.Time
	episode Episode
}

// NewRecorder starts a session for one environment and control method.
func NewRecorder(cfg RecorderConfig) *Recorder {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	id := uuid.NewString()
	return &Recorder{
		dir: cfg.Dir,
		now: now,
		logger: logging.NewComponentLogger(cfg.Logger, "recorder").With(
			logging.String(logging.FieldSessionID, id),
		),
		session: Session{
			ID:            id,
			EnvName:       cfg.EnvName,
			ControlMethod: cfg.ControlMethod,
			CreatedAt:     now(),
		},
	}
}

// SessionID identifies the session in logs and archives.
func (r *Recorder) SessionID() string { return r.session.ID }

// StartEpisode opens a new episode, discarding any unfinished one.
func (r *Recorder) StartEpisode() {
	r.current = &episodeBuffer{start: r.now()}
}

// RecordStep appends one step to the open episode, opening one if needed.
func (r *Recorder) RecordStep(obs env.Observation, action robot.Joints, reward float64) {
	if r.current == nil {
		r.StartEpisode()
	}
	buf := r.current
	ep := &buf.episode
	first := ep.Len() == 0

	ep.Observations = append(ep.Observations, obs.ArmQpos)
	ep.Actions = append(ep.Actions, action)
	ep.Rewards = append(ep.Rewards, reward)
	ep.Timestamps = append(ep.Timestamps, r.now().Sub(buf.start).Seconds())

	if first {
		for _, cam := range []env.Camera{env.CameraFront, env.CameraTop} {
			if img, ok := obs.Image(cam); ok {
				if ep.Images == nil {
					ep.Images = make(map[env.Camera]*ImageStack)
				}
				ep.Images[cam] = newImageStack(img.Bounds())
			}
		}
	}
	for cam, stack := range ep.Images {
		img, ok := obs.Image(cam)
		if ok && stack.fits(img) {
			stack.appendRGBA(img)
		} else {
			stack.appendBlack()
		}
	}
}

// EndEpisode finalizes the open episode. Episodes without steps are dropped.
func (r *Recorder) EndEpisode() {
	buf := r.current
	r.current = nil
	if buf == nil || buf.episode.Len() == 0 {
		return
	}
	r.session.Episodes = append(r.session.Episodes, buf.episode)
	r.logger.Debug("episode finished",
		logging.Int(logging.FieldEpisode, len(r.session.Episodes)),
		logging.Int(logging.FieldSteps, buf.episode.Len()),
	)
}

// Episodes returns the finalized episodes.
func (r *Recorder) Episodes() []Episode { return r.session.Episodes }

// TotalSteps counts the steps of all finalized episodes.
func (r *Recorder) TotalSteps() int { return r.session.TotalSteps() }

// Save writes the finalized episodes to a new archive in the data
// directory and returns its path. Without episodes it returns ErrNoEpisodes
// and writes nothing; I/O failures are wrapped in ErrPersist.
func (r *Recorder) Save() (string, error) {
	if len(r.session.Episodes) == 0 {
		r.logger.Warn("no episodes to save")
		return "", ErrNoEpisodes
	}

	r.session.Timestamp = r.now().Format(TimestampLayout)
	name := ArchiveName(r.session.EnvName, r.session.ControlMethod, r.session.Timestamp)
	r.logger.Info("saving recording",
		logging.Int("episodes", len(r.session.Episodes)),
		logging.Int(logging.FieldSteps, r.TotalSteps()),
		logging.String(logging.FieldPath, name),
	)

	path, err := writeArchiveFile(r.dir, name, func(w io.Writer) error {
		return WriteArchive(w, &r.session)
	})
	if err != nil {
		r.logger.Error("failed to save recording",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the data directory is writable"),
		)
		return "", fmt.Errorf("%w: %w", ErrPersist, err)
	}
	r.logger.Info("recording saved", logging.String(logging.FieldPath, path))
	return path, nil
}
