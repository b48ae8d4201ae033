package call

import (
	"context"
	"sync"

	"chat-client/internal/models"
)

// Phone is the single call line of the local user. While either side holds a
// call the other refuses new ones.
type Phone struct {
	caller *Caller
	callee *Callee
}

// NewPhone joins caller and callee into one line.
func NewPhone(caller *Caller, callee *Callee) *Phone {
	line := &sync.Mutex{}
	caller.line, callee.line = line, line
	caller.other, callee.other = callee.engine, caller.engine
	return &Phone{caller: caller, callee: callee}
}

// Initiate places an outgoing call to peerID.
func (p *Phone) Initiate(ctx context.Context, peerID string) (models.CallSession, error) {
	return p.caller.Initiate(ctx, peerID)
}

// Accept answers the ringing incoming call.
func (p *Phone) Accept(ctx context.Context) (models.CallSession, error) {
	return p.callee.Accept(ctx)
}

// Reject declines the ringing incoming call.
func (p *Phone) Reject(ctx context.Context) error {
	return p.callee.Reject(ctx)
}

// HangUp ends whichever call is active.
func (p *Phone) HangUp(ctx context.Context) error {
	if p.callee.Active() {
		return p.callee.HangUp(ctx)
	}
	return p.caller.HangUp(ctx)
}

// Listen starts ringing for incoming calls.
func (p *Phone) Listen(ctx context.Context) error {
	return p.callee.Listen(ctx)
}

// Current returns the active call, or the one that finished last.
func (p *Phone) Current() (models.CallSession, bool) {
	if p.callee.Active() {
		return p.callee.Current()
	}
	if p.caller.Active() {
		return p.caller.Current()
	}
	out, outSeq, outOK := p.caller.lastCall()
	in, inSeq, inOK := p.callee.lastCall()
	switch {
	case outOK && inOK:
		if inSeq > outSeq {
			return in, true
		}
		return out, true
	case inOK:
		return in, true
	default:
		return out, outOK
	}
}
