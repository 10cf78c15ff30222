// Package dialog implements the dialogs that sit above transactions: the
// INVITE dialog (and its extended variant with digest retry, REFER, INFO and
// NOTIFY), and the SUBSCRIBE/NOTIFY notifier and subscriber dialogs.
//
// Every dialog is driven from its provider's scheduler: inbound messages,
// transaction events and timers all run on the same goroutine, so a dialog
// never locks its own state.
package dialog

import (
	"fmt"

	"github.com/zenghr0820/gbsip/logger"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
)

// Side 对话中本端的角色
type Side int

const (
	UAC Side = iota
	UAS
)

func (s Side) String() string {
	if s == UAS {
		return "UAS"
	}
	return "UAC"
}

// Info is the state of a dialog: both parties, their contacts and tags, the
// CSeq counters and the route set.
type Info struct {
	LocalName     *sip.NameAddress
	RemoteName    *sip.NameAddress
	LocalContact  *sip.NameAddress
	RemoteContact *sip.NameAddress
	CallID        string
	LocalTag      string
	RemoteTag     string
	// -1 until known
	LocalCSeq  int64
	RemoteCSeq int64
	Route      []*sip.NameAddress

	recordRouted bool
}

func NewInfo() *Info {
	return &Info{LocalCSeq: -1, RemoteCSeq: -1}
}

// Update fills the fields still empty from msg, seen from side, and advances
// the CSeq of the party that sent it. Tags and names are never overwritten;
// the route set is taken once from Route and replaced at most once by the
// Record-Route of the dialog establishing message. Contacts follow the last
// message (target refresh).
func (i *Info) Update(side Side, msg *sip.Message) {
	if i.CallID == "" {
		i.CallID = msg.CallID()
	}

	to, _ := msg.To()
	from, _ := msg.From()
	local, remote := from, to
	if side == UAS {
		local, remote = to, from
	}
	if local != nil {
		if i.LocalName == nil {
			i.LocalName = local.WithoutTag()
		}
		if i.LocalTag == "" {
			i.LocalTag = local.Tag()
		}
	}
	if remote != nil {
		if i.RemoteName == nil {
			i.RemoteName = remote.WithoutTag()
		}
		if i.RemoteTag == "" {
			i.RemoteTag = remote.Tag()
		}
	}

	if cseq, err := msg.CSeq(); err == nil {
		if side == UAC {
			i.LocalCSeq = int64(cseq.SeqNo)
		} else {
			i.RemoteCSeq = int64(cseq.SeqNo)
			if i.LocalCSeq < 0 {
				i.LocalCSeq = sip.InitialCSeq - 1
			}
		}
	}

	if contact, err := msg.Contact(); err == nil {
		if (side == UAC && msg.IsRequest()) || (side == UAS && msg.IsResponse()) {
			i.LocalContact = contact
		} else {
			i.RemoteContact = contact
		}
	}

	i.updateRoute(side, msg)
}

func (i *Info) updateRoute(side Side, msg *sip.Message) {
	if msg.IsRequest() && i.Route == nil {
		if routes, err := msg.Routes(); err == nil && len(routes) > 0 {
			if side == UAS {
				routes = reversed(routes)
			}
			i.Route = routes
		}
	}

	if i.recordRouted {
		return
	}
	if (side == UAC && msg.IsResponse()) || (side == UAS && msg.IsRequest()) {
		rr, err := msg.RecordRoutes()
		if err != nil || len(rr) == 0 {
			return
		}
		if side == UAC {
			rr = reversed(rr)
		}
		i.Route = rr
		i.recordRouted = true
	}
}

func reversed(in []*sip.NameAddress) []*sip.NameAddress {
	out := make([]*sip.NameAddress, len(in))
	for n, addr := range in {
		out[len(in)-1-n] = addr
	}
	return out
}

func (i *Info) ID() sip.Identifier {
	return sip.DialogIdentifier(i.CallID, i.LocalTag, i.RemoteTag)
}

// NextLocalCSeq 本端下一个请求的 CSeq
func (i *Info) NextLocalCSeq() uint32 {
	if i.LocalCSeq < 0 {
		i.LocalCSeq = sip.InitialCSeq - 1
	}
	i.LocalCSeq++
	return uint32(i.LocalCSeq)
}

// Params is the factory view of the dialog for a request carrying cseq.
func (i *Info) Params(cseq uint32) *sip.DialogParams {
	return &sip.DialogParams{
		LocalName:     i.LocalName,
		RemoteName:    i.RemoteName,
		LocalContact:  i.LocalContact,
		RemoteContact: i.RemoteContact,
		CallID:        i.CallID,
		LocalTag:      i.LocalTag,
		RemoteTag:     i.RemoteTag,
		CSeq:          cseq,
		Route:         i.Route,
	}
}

// base is what every dialog kind shares: its provider, its Info and its
// registration in the provider under the dialog identifier.
type base struct {
	p    *provider.Provider
	kind string
	log  logger.Component
	seq  uint64
	user string
	info *Info
	self provider.Listener

	id         sip.Identifier
	registered bool
	counted    bool
	closed     bool
}

func (d *base) init(p *provider.Provider, kind, user string, self provider.Listener) {
	d.p = p
	d.kind = kind
	d.log = logger.Component(kind)
	d.seq = p.NextDialogSeq()
	d.user = user
	d.info = NewInfo()
	d.self = self
}

func (d *base) Info() *Info {
	return d.info
}

func (d *base) ID() sip.Identifier {
	return d.id
}

func (d *base) Provider() *provider.Provider {
	return d.p
}

func (d *base) String() string {
	return fmt.Sprintf("%s#%d<%s>", d.kind, d.seq, d.id)
}

// update applies msg to Info and follows the dialog identifier in the
// provider registry.
func (d *base) update(side Side, msg *sip.Message) {
	if d.closed {
		d.log.Warnf("%s is terminated, update with %s ignored", d, msg.Short())
		return
	}
	d.info.Update(side, msg)
	d.opened()

	id := d.info.ID()
	if id == d.id && d.registered {
		return
	}
	if d.registered {
		d.p.RemoveListener(d.id)
		d.registered = false
	}
	d.id = id
	d.log.Debugf("new dialog id: %s", id)
	if d.p.AddListener(id, d.self) {
		d.registered = true
	}
}

func (d *base) opened() {
	if !d.counted {
		d.counted = true
		d.p.Metrics().Dialogs.WithLabelValues(d.kind).Inc()
	}
}

// close leaves the registry; nothing reaches the dialog afterwards.
func (d *base) close() {
	if d.closed {
		return
	}
	d.closed = true
	if d.registered {
		d.p.RemoveListener(d.id)
		d.registered = false
	}
	if d.counted {
		d.p.Metrics().Dialogs.WithLabelValues(d.kind).Dec()
	}
}

// fresh reports whether req is newer than anything the remote side sent so
// far, and records its CSeq. ACK and CANCEL reuse the INVITE's number.
func (d *base) fresh(req *sip.Message) bool {
	if req.IsAck() || req.IsCancel() {
		return true
	}
	cseq, err := req.CSeq()
	if err != nil {
		return false
	}
	if int64(cseq.SeqNo) <= d.info.RemoteCSeq {
		return false
	}
	d.info.RemoteCSeq = int64(cseq.SeqNo)
	return true
}
