// Package saga implementa o núcleo de coordenação de transações
// distribuídas: registros de ciclo de vida, coordenador (join / commit /
// rollback / exists) e o listener de rollback que despacha compensações.
package saga

import (
	"encoding/json"
	"fmt"
)

// Estados do ciclo de vida de uma transação. JOIN precede qualquer registro
// terminal; COMMIT e ROLLBACK são terminais e mutuamente exclusivos — o log
// não impõe isso, quem escreve não pode gravar os dois.
const (
	StateJoin     = "JOIN"
	StateCommit   = "COMMIT"
	StateRollback = "ROLLBACK"
)

// Record é um registro imutável do ciclo de vida de uma transação. É um tipo
// soma etiquetado por State: exatamente um payload é preenchido, de acordo
// com a etiqueta.
type Record struct {
	TransactionID string

	State    string
	Join     *JoinPayload
	Commit   *CommitPayload
	Rollback *RollbackPayload
}

// JoinPayload identifica o servidor que abriu a transação e a chave do
// snapshot compensatório gravado junto do join.
type JoinPayload struct {
	ServerID string
	UndoKey  string
}

// CommitPayload identifica o servidor que confirmou a transação.
type CommitPayload struct {
	ServerID string
}

// RollbackPayload identifica o servidor que abortou a transação e a causa.
type RollbackPayload struct {
	ServerID string
	Cause    string
}

// ServerID retorna a identidade do servidor que originou o registro.
func (r Record) ServerID() string {
	switch r.State {
	case StateJoin:
		return r.Join.ServerID
	case StateCommit:
		return r.Commit.ServerID
	case StateRollback:
		return r.Rollback.ServerID
	default:
		return ""
	}
}

// recordWire é o formato persistido de um Record no log de transações.
type recordWire struct {
	ID       string `json:"id"`
	ServerID string `json:"server_id"`
	State    string `json:"state"`
	UndoKey  string `json:"undo_key,omitempty"`
	Cause    string `json:"cause,omitempty"`
}

// EncodeRecord serializa um registro para o formato do log.
func EncodeRecord(record Record) ([]byte, error) {
	wire := recordWire{
		ID:       record.TransactionID,
		ServerID: record.ServerID(),
		State:    record.State,
	}

	switch record.State {
	case StateJoin:
		wire.UndoKey = record.Join.UndoKey
	case StateCommit:
	case StateRollback:
		wire.Cause = record.Rollback.Cause
	default:
		return nil, fmt.Errorf("cannot encode record with unknown state %q", record.State)
	}

	return json.Marshal(wire)
}

// DecodeRecord desserializa um registro do log, materializando o payload
// correspondente à etiqueta de estado. Estado desconhecido é erro de decode.
func DecodeRecord(data []byte) (Record, error) {
	var wire recordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return Record{}, fmt.Errorf("failed to decode transaction record: %w", err)
	}

	record := Record{TransactionID: wire.ID, State: wire.State}
	switch wire.State {
	case StateJoin:
		record.Join = &JoinPayload{ServerID: wire.ServerID, UndoKey: wire.UndoKey}
	case StateCommit:
		record.Commit = &CommitPayload{ServerID: wire.ServerID}
	case StateRollback:
		record.Rollback = &RollbackPayload{ServerID: wire.ServerID, Cause: wire.Cause}
	default:
		return Record{}, fmt.Errorf("cannot decode record with unknown state %q", wire.State)
	}

	return record, nil
}
