package transaction

import (
	"github.com/discoviking/fsm"
)

// RFC 3261 17 timer names, used as scheduler task kinds.
const (
	timerA = "A"
	timerB = "B"
	timerD = "D"
	timerE = "E"
	timerF = "F"
	timerG = "G"
	timerH = "H"
	timerI = "I"
	timerJ = "J"
	timerK = "K"

	timerRetransmission = "retransmission"
	timerTransaction    = "transaction"
	timerTrying         = "trying"
)

// 客户端事务状态机 FSM Inputs
const (
	clientInput1xx fsm.Input = iota
	clientInput2xx
	clientInput300Plus
	clientInputTimerA
	clientInputTimerB
	clientInputTimerD
	clientInputDelete
)

// 服务端事务状态机 FSM Inputs
const (
	serverInputRequest fsm.Input = iota
	serverInputRetransmission
	serverInputAck
	serverInputUser1xx
	serverInputUser2xx
	serverInputUser300Plus
	serverInputTimerG
	serverInputTimerH
	serverInputTimerI
	serverInputTimerJ
	serverInputDelete
)

// Transaction kinds, also the metrics label and log component.
const (
	KindClient       = "clientTx"
	KindInviteClient = "inviteClientTx"
	KindAckClient    = "ackClientTx"
	KindServer       = "serverTx"
	KindInviteServer = "inviteServerTx"
	KindAckServer    = "ackServerTx"
)
