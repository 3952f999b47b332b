package sal

import (
	"context"
	"errors"

	"salkit/cache"
	"salkit/core"
	"salkit/engine"
	"salkit/imaging"
)

const OpGetAvatar = "get_avatar"

// AvatarKey identifies one avatar variant of one subject.
type AvatarKey struct {
	Subject core.SubjectID
	Size    core.AvatarSize
}

func (k AvatarKey) String() string { return string(k.Subject) + "/" + k.Size.String() }

// AvatarCache holds fetched avatar textures. A released or collected texture is a miss.
type AvatarCache = cache.Keyed[AvatarKey, imaging.Texture]

// NewAvatarCache builds an avatar cache. Extra options apply after the
// validity check and key encoding.
func NewAvatarCache(opts ...cache.Option[AvatarKey, imaging.Texture]) *AvatarCache {
	base := []cache.Option[AvatarKey, imaging.Texture]{
		cache.WithValidity[AvatarKey](func(t *imaging.Texture) bool { return t.Valid() }),
		cache.WithKeyString[AvatarKey, imaging.Texture](AvatarKey.String),
	}
	return cache.New[AvatarKey, imaging.Texture](append(base, opts...)...)
}

type avatarResult struct {
	tex *imaging.Texture
	err error
}

type avatarInput struct {
	raw string
	key AvatarKey
}

// GetAvatar returns the subject's avatar texture. A cached texture is
// returned right away; otherwise the platform is asked for the image and
// polled until it is ready or the poll budget runs out.
func (c *Client) GetAvatar(owner engine.OwnerRef, subject string, size core.AvatarSize, cb Callbacks[*imaging.Texture]) *engine.Handle {
	job := engine.Job[avatarInput, *imaging.Texture]{
		Name: OpGetAvatar,
		Validate: func(in avatarInput) (avatarInput, error) {
			if in.raw == "" {
				return in, errors.New("subject id is empty")
			}
			switch in.key.Size {
			case core.AvatarSmall, core.AvatarMedium, core.AvatarLarge:
			default:
				return in, errors.New("unknown avatar size")
			}
			id, err := core.ParseSubjectID(in.raw)
			if err != nil {
				return in, err
			}
			in.key.Subject = id
			return in, nil
		},
		Ready: need(c.hasFriends(), c.hasUtils()),
		Run: func(in avatarInput, owner engine.OwnerRef, finish func(*imaging.Texture, error)) {
			c.fetchAvatar(in.key, owner, finish)
		},
	}
	in := avatarInput{raw: subject, key: AvatarKey{Size: size}}
	return engine.SubmitFunc(c.rt, owner, job, in, cb)
}

func (c *Client) fetchAvatar(key AvatarKey, owner engine.OwnerRef, finish func(*imaging.Texture, error)) {
	if tex, ok := c.avatars.Get(key); ok {
		c.rt.Bus().Publish(context.Background(), core.NewAvatarCacheHit(key.Subject, key.Size))
		finish(tex, nil)
		return
	}

	res := make(chan avatarResult, 1)
	go func() {
		tex, err := c.avatars.Do(key, func() (*imaging.Texture, error) { return c.loadAvatar(key) })
		res <- avatarResult{tex, err}
	}()
	go func() {
		select {
		case r := <-res:
			finish(r.tex, r.err)
		case <-owner.Done():
			finish(nil, engine.ErrOwnerGone)
		}
	}()
}

// loadAvatar blocks until the image for key is available or the poll budget
// runs out. Concurrent callers of the same key share one load through the
// cache, so it polls detached from any single owner.
func (c *Client) loadAvatar(key AvatarKey) (*imaging.Texture, error) {
	if h := c.svc.Friends.AvatarHandle(key.Subject, key.Size); h > 0 {
		tex, err := c.texture(h, c.format)
		if err == nil {
			return tex, nil
		}
		c.log.Debug("avatar handle without image data, polling", "op", OpGetAvatar, "subject", string(key.Subject), "error", err)
	} else {
		c.svc.Friends.RequestUserInformation(key.Subject, true)
	}

	var found *imaging.Texture
	out := make(chan avatarResult, 1)
	check := func() bool {
		h := c.svc.Friends.AvatarHandle(key.Subject, key.Size)
		if h <= 0 {
			return false
		}
		tex, err := c.texture(h, c.format)
		if err != nil {
			return false
		}
		found = tex
		return true
	}
	onReady := func() { out <- avatarResult{tex: found} }
	onTimeout := func() { out <- avatarResult{err: core.Timeout(OpGetAvatar, "timed out waiting for image data")} }
	p, err := engine.StartPolling(c.ctx, engine.Detached(), c.poll, check, onReady, onTimeout)
	if err != nil {
		return nil, core.Logical(OpGetAvatar, err.Error())
	}
	<-p.Done()
	select {
	case r := <-out:
		return r.tex, r.err
	default:
		// Client closed mid-poll.
		return nil, engine.ErrOwnerGone
	}
}
