package ua

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ultravideo/kvazzup/sip"
	"github.com/ultravideo/kvazzup/transaction"
)

// defaultRegistrationExpiry is the Expires value this UA requests and,
// absent a server override, the interval it waits before refreshing
// (supplemented feature: spec.md's register_to_server is one-shot, the
// periodic re-REGISTER is carried over from the original client).
const defaultRegistrationExpiry = 3600
const refreshMargin = 30 * time.Second

// registration tracks the one outstanding REGISTER binding this UA
// maintains and its refresh timer.
type registration struct {
	mu         sync.Mutex
	server     sip.URI
	username   string
	timer      *time.Timer
	generation uint64 // bumped on stop/replace, so a stale timer is a no-op
}

// RegisterToServer is the downward register_to_server operation. It sends
// a REGISTER, reports the outcome as registered_to_server/
// registering_failed, and on success arms a refresh timer that fires
// comfortably inside the granted Expires window.
func (c *Coordinator) RegisterToServer(ctx context.Context, server sip.URI, username string) error {
	if c.registrar != nil {
		c.registrar.stop()
	}
	reg := &registration{server: server, username: username}
	c.registrar = reg

	return c.sendRegister(ctx, reg)
}

func (c *Coordinator) sendRegister(ctx context.Context, reg *registration) error {
	transportID, err := c.transportMgr.CreateConnection(ctx, c.cfg.Transport, reg.server.HostPort())
	if err != nil {
		c.emit(RegisteringFailed{Reason: err.Error()})
		return fmt.Errorf("ua: register: connect: %w", err)
	}

	req := sip.NewRequest(sip.REGISTER, reg.server)
	req.From = c.cfg.localNameAddr()
	req.From.SetTag(sip.GenerateTag())
	req.To = sip.NameAddr{URI: c.cfg.LocalURI}
	req.CallID = sip.GenerateCallID(c.cfg.Contact.Host)
	req.CSeq = sip.CSeq{Number: 1, Method: sip.REGISTER}
	req.Contact = &sip.NameAddr{URI: c.cfg.Contact}
	req.HasMaxFwd = true
	req.MaxForwards = 70
	req.PushVia(sip.ViaHop{Transport: c.cfg.Transport, SentBy: c.localSentBy(), Branch: sip.GenerateBranch()})
	req.Extra = append(req.Extra, sip.ExtraHeader{Name: "Expires", Value: fmt.Sprintf("%d", defaultRegistrationExpiry)})

	sender := c.transportMgr.SenderFor(transportID)
	_, err = c.txLayer.CreateClientTx(req, sender, func(e transaction.ClientEvent) {
		c.onRegisterEvent(reg, e)
	})
	if err != nil {
		c.emit(RegisteringFailed{Reason: err.Error()})
		return err
	}
	return nil
}

func (c *Coordinator) onRegisterEvent(reg *registration, e transaction.ClientEvent) {
	switch ev := e.(type) {
	case transaction.Final:
		if ev.Response.IsSuccess() {
			c.emit(RegisteredToServer{})
			c.armRefresh(reg)
		} else {
			c.emit(RegisteringFailed{Reason: ev.Response.Reason})
		}
	case transaction.TimedOut:
		c.emit(RegisteringFailed{Reason: "timed out"})
	case transaction.ClientTransportErr:
		c.emit(RegisteringFailed{Reason: ev.Err.Error()})
	}
}

func (c *Coordinator) armRefresh(reg *registration) {
	reg.mu.Lock()
	reg.generation++
	gen := reg.generation
	if reg.timer != nil {
		reg.timer.Stop()
	}
	delay := time.Duration(defaultRegistrationExpiry)*time.Second - refreshMargin
	reg.timer = time.AfterFunc(delay, func() { c.onRefreshTimer(reg, gen) })
	reg.mu.Unlock()
}

func (c *Coordinator) onRefreshTimer(reg *registration, gen uint64) {
	reg.mu.Lock()
	stale := gen != reg.generation
	reg.mu.Unlock()
	if stale {
		return
	}
	c.sendRegister(context.Background(), reg)
}

func (r *registration) stop() {
	r.mu.Lock()
	r.generation++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
}
