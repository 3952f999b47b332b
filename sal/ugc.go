package sal

import (
	"errors"

	"github.com/dustin/go-humanize"

	"salkit/core"
	"salkit/engine"
	"salkit/platform"
)

const (
	OpUploadScoreWithUGC = "upload_score_with_ugc"
	OpDownloadUGCFile    = "download_ugc_file"
)

// Pipeline step names of UploadScoreWithUGC.
const (
	StepFileWrite = "file_write"
	StepFileShare = "file_share"
	StepUpload    = "upload_score"
	StepAttach    = "attach_ugc"
)

type ugcInput struct {
	board   core.LeaderboardHandle
	score   int32
	details []int32
	file    string
	data    []byte
}

// ugcState is threaded through the pipeline steps.
type ugcState struct {
	in     ugcInput
	shared core.UGCHandle
	score  int32
}

// transportOrNil maps an empty or failed completion to a transport failure.
func transportOrNil[T any](op string, raw *T, ioFailure bool) error {
	if raw == nil || ioFailure {
		return core.Transport(op, "io failure or empty payload")
	}
	return nil
}

// UploadScoreWithUGC writes data to cloud storage, shares it, uploads the
// score with KeepBest and attaches the shared file to the score. A failed
// step aborts the rest; earlier steps are not undone.
func (c *Client) UploadScoreWithUGC(owner engine.OwnerRef, board core.LeaderboardHandle, score int32, details []int32, file string, data []byte, cb Callbacks[core.UGCUpload]) *engine.Handle {
	op := OpUploadScoreWithUGC
	pipe := engine.Pipeline[ugcState]{
		Op: op,
		Steps: []engine.Step[ugcState]{
			{Name: StepFileWrite, Run: func(s *ugcState, done func(error)) {
				if !c.svc.RemoteStorage.FileWrite(s.in.file, s.in.data) {
					done(core.Logical(op, "file write to remote storage failed"))
					return
				}
				c.log.Debug("ugc written", "op", op, "file", s.in.file, "size", humanize.Bytes(uint64(len(s.in.data))))
				done(nil)
			}},
			{Name: StepFileShare, Run: func(s *ugcState, done func(error)) {
				call := c.svc.RemoteStorage.FileShare(s.in.file, func(raw *platform.FileShareResult, ioFailure bool) {
					if err := transportOrNil(op, raw, ioFailure); err != nil {
						done(err)
						return
					}
					if raw.Result != platform.ResultOK {
						done(core.Logicalf(op, "file share failed with result %s", raw.Result))
						return
					}
					s.shared = raw.Handle
					done(nil)
				})
				if !call.Valid() {
					done(core.Rejected(op, "file share returned an invalid call handle"))
				}
			}},
			{Name: StepUpload, Run: func(s *ugcState, done func(error)) {
				call := c.svc.UserStats.UploadLeaderboardScore(s.in.board, core.UploadKeepBest, s.in.score, s.in.details, func(raw *platform.ScoreUploaded, ioFailure bool) {
					if err := transportOrNil(op, raw, ioFailure); err != nil {
						done(err)
						return
					}
					if !raw.Success {
						done(core.Logical(op, "platform reported upload failure"))
						return
					}
					s.score = raw.Score
					done(nil)
				})
				if !call.Valid() {
					done(core.Rejected(op, "score upload returned an invalid call handle"))
				}
			}},
			{Name: StepAttach, Run: func(s *ugcState, done func(error)) {
				if !s.shared.Valid() {
					done(core.Logical(op, "shared file handle is invalid"))
					return
				}
				call := c.svc.UserStats.AttachLeaderboardUGC(s.in.board, s.shared, func(raw *platform.UGCAttached, ioFailure bool) {
					if err := transportOrNil(op, raw, ioFailure); err != nil {
						done(err)
						return
					}
					if raw.Result != platform.ResultOK {
						done(core.Logicalf(op, "attach failed with result %s", raw.Result))
						return
					}
					done(nil)
				})
				if !call.Valid() {
					done(core.Rejected(op, "attach returned an invalid call handle"))
				}
			}},
		},
	}
	job := engine.Job[ugcInput, core.UGCUpload]{
		Name: op,
		Validate: func(in ugcInput) (ugcInput, error) {
			if !in.board.Valid() {
				return in, errors.New("invalid leaderboard handle")
			}
			if err := core.ValidateFileName(in.file); err != nil {
				return in, err
			}
			if len(in.data) == 0 {
				return in, errors.New("ugc data is empty")
			}
			n := min(len(in.details), core.MaxDetails)
			in.details = append([]int32(nil), in.details[:n]...)
			in.data = append([]byte(nil), in.data...)
			return in, nil
		},
		Ready: need(c.hasRemote(), c.hasStats()),
		Run: func(in ugcInput, owner engine.OwnerRef, finish func(core.UGCUpload, error)) {
			s := &ugcState{in: in, score: in.score}
			pipe.Run(s, owner, func(err error) {
				if err != nil {
					finish(core.UGCUpload{}, err)
					return
				}
				finish(core.UGCUpload{Score: s.score, Handle: s.shared}, nil)
			})
		},
	}
	in := ugcInput{board: board, score: score, details: details, file: file, data: data}
	return engine.SubmitFunc(c.rt, owner, job, in, cb)
}

type ugcDownloadInput struct {
	handle   core.UGCHandle
	maxBytes int
}

// DownloadUGCFile downloads a shared file. A positive maxBytes truncates the
// read; zero or less reads the whole file.
func (c *Client) DownloadUGCFile(owner engine.OwnerRef, handle core.UGCHandle, maxBytes int, cb Callbacks[core.UGCFile]) *engine.Handle {
	op := engine.Operation[ugcDownloadInput, platform.UGCDownloadResult, core.UGCFile]{
		Name: OpDownloadUGCFile,
		Validate: func(in ugcDownloadInput) (ugcDownloadInput, error) {
			if !in.handle.Valid() {
				return in, errors.New("invalid ugc handle")
			}
			in.maxBytes = max(in.maxBytes, 0)
			return in, nil
		},
		Ready: need(c.hasRemote()),
		Call: func(in ugcDownloadInput, done platform.Completion[platform.UGCDownloadResult]) platform.CallID {
			return c.svc.RemoteStorage.UGCDownload(in.handle, 0, done)
		},
		Extract: func(in ugcDownloadInput, raw *platform.UGCDownloadResult) (core.UGCFile, error) {
			if raw.Result != platform.ResultOK {
				return core.UGCFile{}, core.Logicalf(OpDownloadUGCFile, "download failed with result %s", raw.Result)
			}
			if raw.Size <= 0 {
				return core.UGCFile{}, core.Logical(OpDownloadUGCFile, "file size is zero or negative")
			}
			want := raw.Size
			if in.maxBytes > 0 && in.maxBytes < want {
				want = in.maxBytes
			}
			buf := make([]byte, want)
			n := c.svc.RemoteStorage.UGCRead(in.handle, buf, 0)
			switch {
			case n < 0:
				return core.UGCFile{}, core.Logical(OpDownloadUGCFile, "read failed")
			case n == 0:
				return core.UGCFile{}, core.Logical(OpDownloadUGCFile, "read returned 0 bytes")
			}
			c.log.Debug("ugc downloaded", "op", OpDownloadUGCFile, "file", raw.FileName, "size", humanize.Bytes(uint64(n)))
			return core.UGCFile{Handle: in.handle, Data: buf[:n], Size: n}, nil
		},
	}
	return engine.Submit(c.rt, owner, op, ugcDownloadInput{handle: handle, maxBytes: maxBytes}, cb)
}
