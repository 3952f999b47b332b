package sim

import (
	"salkit/core"
)

type avatarKey struct {
	subject core.SubjectID
	size    core.AvatarSize
}

// rgbaImage is a registered image: w*h*4 bytes of RGBA8.
type rgbaImage struct {
	w, h int
	pix  []byte
}

// PersonaName returns the directory name once the account is known locally.
func (p *Platform) PersonaName(id core.SubjectID) string {
	p.mu.Lock()
	known := p.known[id]
	p.mu.Unlock()
	if !known {
		return ""
	}
	return p.cfg.Personas[id]
}

func (p *Platform) RequestUserInformation(id core.SubjectID, nameOnly bool) bool {
	p.mu.Lock()
	known := p.known[id]
	p.mu.Unlock()
	if known {
		return false
	}
	if p.faults.take(CallRequestUserInformation) == FaultNotReady {
		return true
	}
	p.after(func() {
		p.mu.Lock()
		p.known[id] = true
		p.mu.Unlock()
		p.log.Debug("user information resolved", "subject", string(id), "name_only", nameOnly)
	})
	return true
}

// AvatarHandle answers -1 ("loading") for the first AvatarReadyAfter queries
// of a subject and size, then the handle of a generated image.
func (p *Platform) AvatarHandle(id core.SubjectID, size core.AvatarSize) int {
	if p.faults.take(CallAvatarHandle) == FaultNotReady {
		return -1
	}
	k := avatarKey{id, size}
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.avatars[k]; ok {
		return h
	}
	p.avatarQueries[k]++
	if p.avatarQueries[k] <= p.cfg.AvatarReadyAfter {
		return -1
	}
	n := size.Pixels()
	h := p.registerLocked(n, n, identicon(hash64("avatar", string(id)), n))
	p.avatars[k] = h
	return h
}

// AchievementIcon returns a generated icon, greyed out while locked.
func (p *Platform) AchievementIcon(name string) int {
	if _, ok := p.achievementDef(name); !ok {
		return 0
	}
	unlocked, _ := p.GetAchievement(name)
	key := name
	if !unlocked {
		key += "#locked"
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.icons[key]; ok {
		return h
	}
	pix := identicon(hash64("icon", name), 64)
	if !unlocked {
		greyscale(pix)
	}
	h := p.registerLocked(64, 64, pix)
	p.icons[key] = h
	return h
}

func (p *Platform) registerLocked(w, h int, pix []byte) int {
	p.lastImage++
	p.images[p.lastImage] = rgbaImage{w: w, h: h, pix: pix}
	return p.lastImage
}

func (p *Platform) ImageSize(handle int) (w, h int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	img, ok := p.images[handle]
	return img.w, img.h, ok
}

func (p *Platform) ImageRGBA(handle int, dst []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	img, ok := p.images[handle]
	if !ok || len(dst) < len(img.pix) {
		return false
	}
	copy(dst, img.pix)
	return true
}

// identicon draws a mirrored 5x5 pattern in a color derived from seed.
func identicon(seed uint64, n int) []byte {
	fg := [4]byte{byte(seed >> 8), byte(seed >> 16), byte(seed >> 24), 255}
	bg := [4]byte{240, 240, 240, 255}
	pix := make([]byte, n*n*4)
	cell := max(n/5, 1)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			cx, cy := min(x/cell, 4), min(y/cell, 4)
			if cx > 2 {
				cx = 4 - cx
			}
			c := bg
			if seed>>(32+uint(cy*3+cx))&1 == 1 {
				c = fg
			}
			copy(pix[(y*n+x)*4:], c[:])
		}
	}
	return pix
}

func greyscale(pix []byte) {
	for i := 0; i+3 < len(pix); i += 4 {
		g := byte((int(pix[i])*30 + int(pix[i+1])*59 + int(pix[i+2])*11) / 100)
		pix[i], pix[i+1], pix[i+2] = g, g, g
	}
}
