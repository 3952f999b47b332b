package sim

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/dustin/go-humanize"

	"salkit/core"
	"salkit/platform"
)

func (p *Platform) FileWrite(name string, data []byte) bool {
	if f := p.faults.take(CallFileWrite); f != FaultNone {
		return false
	}
	if core.ValidateFileName(name) != nil {
		return false
	}
	if err := p.store.WriteFile(p.ctx, p.cfg.LocalUser, name, data); err != nil {
		p.log.Warn("file write failed", "file", name, "error", err)
		return false
	}
	p.log.Debug("file written", "file", name, "size", humanize.Bytes(uint64(len(data))))
	return true
}

func newUGCHandle() core.UGCHandle {
	for {
		if h := core.UGCHandle(rand.Uint64()); h.Valid() {
			return h
		}
	}
}

func (p *Platform) FileShare(name string, done platform.Completion[platform.FileShareResult]) platform.CallID {
	return dispatch(p, CallFileShare, done, func(ctx context.Context, f Fault) (*platform.FileShareResult, error) {
		res := &platform.FileShareResult{FileName: name}
		if f == FaultLogical {
			res.Result = platform.ResultFail
			return res, nil
		}
		me := p.cfg.LocalUser
		data, err := p.store.ReadFile(ctx, me, name)
		if errors.Is(err, core.ErrNotFound) {
			res.Result = platform.ResultFileNotFound
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		h := newUGCHandle()
		if err := p.store.ShareFile(ctx, core.SharedFile{Handle: h, Owner: me, Name: name, Data: data, Shared: time.Now().UTC()}); err != nil {
			return nil, err
		}
		res.Result, res.Handle = platform.ResultOK, h
		return res, nil
	})
}

func (p *Platform) UGCDownload(h core.UGCHandle, priority int, done platform.Completion[platform.UGCDownloadResult]) platform.CallID {
	return dispatch(p, CallUGCDownload, done, func(ctx context.Context, f Fault) (*platform.UGCDownloadResult, error) {
		res := &platform.UGCDownloadResult{Handle: h, AppID: p.cfg.AppID}
		if f == FaultLogical {
			res.Result = platform.ResultFail
			return res, nil
		}
		file, err := p.store.SharedFile(ctx, h)
		if errors.Is(err, core.ErrNotFound) {
			res.Result = platform.ResultFileNotFound
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.downloads[h] = file.Data
		p.mu.Unlock()
		p.log.Debug("ugc downloaded", "handle", uint64(h), "priority", priority, "size", humanize.Bytes(uint64(len(file.Data))))
		res.Result = platform.ResultOK
		res.Size = len(file.Data)
		res.FileName = file.Name
		res.Owner = file.Owner
		return res, nil
	})
}

func (p *Platform) UGCRead(h core.UGCHandle, buf []byte, offset int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.downloads[h]
	if !ok || offset < 0 {
		return -1
	}
	if offset >= len(data) {
		return 0
	}
	return copy(buf, data[offset:])
}
