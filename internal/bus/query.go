package bus

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/nexus-edge/serial-driver/internal/domain"
)

// Query is one planned protocol transaction covering one or more registers
// of the same kind on the same device. The range and register list are
// fixed at construction; only the status and the split flag mutate as the
// query executes.
type Query struct {
	session *Session
	op      domain.Operation
	kind    domain.RegisterKind
	start   uint16
	count   uint16
	regs    []*domain.Register

	hasHoles   bool
	splittable bool
	status     domain.QueryStatus

	// writeRaw carries the value for write queries; write queries always
	// cover exactly one register.
	writeRaw uint64
}

func newReadQuery(session *Session, regs []*domain.Register, hasHoles bool) *Query {
	first, last := regs[0], regs[len(regs)-1]
	return &Query{
		session:  session,
		op:       domain.OpRead,
		kind:     first.Kind,
		start:    first.Address,
		count:    last.End() - first.Address,
		regs:     regs,
		hasHoles: hasHoles,
	}
}

func newWriteQuery(session *Session, reg *domain.Register, raw uint64) *Query {
	return &Query{
		session:  session,
		op:       domain.OpWrite,
		kind:     reg.Kind,
		start:    reg.Address,
		count:    reg.Width,
		regs:     []*domain.Register{reg},
		writeRaw: raw,
	}
}

// Session returns the device session the query belongs to.
func (q *Query) Session() *Session { return q.session }

// Operation returns the transaction direction.
func (q *Query) Operation() domain.Operation { return q.op }

// Kind returns the register kind the query addresses.
func (q *Query) Kind() domain.RegisterKind { return q.kind }

// Start returns the first element address covered.
func (q *Query) Start() uint16 { return q.start }

// Count returns the number of protocol elements covered.
func (q *Query) Count() uint16 { return q.count }

// Registers returns the covered registers in address order.
func (q *Query) Registers() []*domain.Register { return q.regs }

// Status returns the outcome of the last execution.
func (q *Query) Status() domain.QueryStatus { return q.status }

// Splittable reports whether a permanent rejection marked the query as a
// candidate for retrying in halves.
func (q *Query) Splittable() bool { return q.splittable }

// Describe renders the covered range for logs and error messages.
func (q *Query) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s @ %d", q.op, q.count, q.kind, q.start)
	if q.session != nil {
		fmt.Fprintf(&b, " of device %s", q.session.ID())
	}
	if len(q.regs) > 1 {
		addrs := make([]string, len(q.regs))
		for i, r := range q.regs {
			addrs[i] = fmt.Sprintf("%d", r.Address)
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(addrs, " "))
	}
	return b.String()
}

// reset clears the transient status before a new poll pass.
func (q *Query) reset() {
	q.status = domain.StatusNotExecuted
	q.splittable = false
}

// setStatus records the outcome and propagates error outcomes into the
// error bits of every covered register.
func (q *Query) setStatus(status domain.QueryStatus) {
	q.status = status
	if status == domain.StatusOK || status == domain.StatusNotExecuted {
		return
	}
	for _, reg := range q.regs {
		if q.op == domain.OpRead {
			q.session.acceptReadError(reg)
		} else {
			q.session.acceptWriteError(reg)
		}
	}
}

// markException records a device exception outcome. Address and value
// rejections arm the split flag when the range actually contains a hole
// the rejection could be localized to.
func (q *Query) markException(status domain.QueryStatus, splitCandidate bool) {
	if splitCandidate && len(q.regs) > 1 && q.hasHoles {
		q.splittable = true
	}
	q.setStatus(status)
}

// Split halves the register list into two follow-up queries inheriting the
// device and kind. Splitting a single-register query is impossible; the
// split flag is cleared and ok is false.
func (q *Query) Split() (left, right *Query, ok bool) {
	if len(q.regs) < 2 {
		q.splittable = false
		return nil, nil, false
	}
	mid := len(q.regs) / 2
	return newReadQuery(q.session, q.regs[:mid], holesIn(q.regs[:mid])),
		newReadQuery(q.session, q.regs[mid:], holesIn(q.regs[mid:])),
		true
}

func holesIn(regs []*domain.Register) bool {
	for i := 1; i < len(regs); i++ {
		if regs[i].Address != regs[i-1].End() {
			return true
		}
	}
	return false
}

// packed reports whether a write must use the multi-element function.
func (q *Query) packed() bool {
	return q.kind.Info().PackedWrite || q.count > 1
}

// writeBytes renders the write payload for multi-element writes: 16-bit
// words transmitted big-endian, laid out in the register's word order.
func (q *Query) writeBytes() []byte {
	reg := q.regs[0]
	if q.kind.Info().SingleBit {
		return []byte{byte(q.writeRaw & 1)}
	}
	words := domain.SplitWords(q.writeRaw, q.count, reg.WordOrder)
	out := make([]byte, len(words)*2)
	for i, w := range words {
		binary.BigEndian.PutUint16(out[i*2:], w)
	}
	return out
}

// finalizeRead decodes the response payload into every covered register
// and marks the query successful.
func (q *Query) finalizeRead(payload []byte) error {
	if q.kind.Info().SingleBit {
		if len(payload) < (int(q.count)+7)/8 {
			return fmt.Errorf("payload is %d bytes, want %d bits", len(payload), q.count)
		}
		for _, reg := range q.regs {
			idx := int(reg.Address - q.start)
			raw := uint64(payload[idx/8] >> (idx % 8) & 1)
			q.session.acceptDeviceValue(reg, raw)
		}
		q.status = domain.StatusOK
		return nil
	}

	if len(payload) < int(q.count)*2 {
		return fmt.Errorf("payload is %d bytes, want %d", len(payload), int(q.count)*2)
	}
	words := make([]uint16, q.count)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(payload[i*2:])
	}
	for _, reg := range q.regs {
		off := reg.Address - q.start
		raw := domain.AssembleWords(words[off:off+reg.Width], reg.WordOrder)
		q.session.acceptDeviceValue(reg, raw)
	}
	q.status = domain.StatusOK
	return nil
}

// finalizeWrite marks every covered register as successfully written.
func (q *Query) finalizeWrite() {
	for _, reg := range q.regs {
		q.session.acceptWriteSuccess(reg)
	}
	q.status = domain.StatusOK
}
