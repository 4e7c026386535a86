package saga

import "errors"

// ErrTransactionNotFound indica que esta instância não possui registro JOIN
// próprio para a transação: ou ela nunca foi aberta aqui, ou foi aberta por
// outra réplica compartilhando o mesmo log.
var ErrTransactionNotFound = errors.New("transaction not found")
