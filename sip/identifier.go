package sip

import (
	"strconv"
	"strings"
)

type IdentifierKind uint8

const (
	TransactionKind IdentifierKind = iota + 1
	DialogKind
	MethodKind
	ConnectionKind
	AnyKind
)

func (k IdentifierKind) String() string {
	switch k {
	case TransactionKind:
		return "transaction"
	case DialogKind:
		return "dialog"
	case MethodKind:
		return "method"
	case ConnectionKind:
		return "connection"
	case AnyKind:
		return "any"
	}
	return "none"
}

// Identifier is an opaque, comparable key. Values are built only through the
// constructors below; two identifiers are equal when kind and every part are
// equal. Parts are kept apart so a "-" inside a Call-ID or tag cannot shift
// one field into the next.
type Identifier struct {
	kind  IdentifierKind
	parts [4]string
}

// AnyIdentifier 默认监听者
var AnyIdentifier = Identifier{kind: AnyKind, parts: [4]string{"ANY"}}

// TransactionIdentifier = f(Call-ID, CSeq number, method, branch). ACK is
// folded into INVITE so the ACK for a non-2xx reaches the INVITE server
// transaction.
func TransactionIdentifier(callID string, seq uint32, method RequestMethod, branch string) Identifier {
	if method == ACK {
		method = INVITE
	}
	return Identifier{
		kind:  TransactionKind,
		parts: [4]string{callID, strconv.FormatUint(uint64(seq), 10), string(method), branch},
	}
}

func DialogIdentifier(callID, localTag, remoteTag string) Identifier {
	return Identifier{kind: DialogKind, parts: [4]string{callID, localTag, remoteTag}}
}

// MethodIdentifier = f(method[, username]). Server transactions waiting for a
// request listen on this kind of identifier.
func MethodIdentifier(method RequestMethod, username string) Identifier {
	return Identifier{kind: MethodKind, parts: [4]string{string(method), username}}
}

func ConnectionIdentifier(proto, addr string, port int) Identifier {
	return Identifier{
		kind:  ConnectionKind,
		parts: [4]string{strings.ToLower(proto), addr, strconv.Itoa(port)},
	}
}

func (id Identifier) Kind() IdentifierKind {
	return id.kind
}

func (id Identifier) IsZero() bool {
	return id.kind == 0
}

func (id Identifier) String() string {
	if id.IsZero() {
		return "<none>"
	}
	sep := "-"
	if id.kind == ConnectionKind {
		sep = ":"
	}
	n := len(id.parts)
	for n > 1 && id.parts[n-1] == "" {
		n--
	}
	return id.kind.String() + ":" + strings.Join(id.parts[:n], sep)
}
