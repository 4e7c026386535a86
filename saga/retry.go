package saga

import (
	"context"
	"math/rand"
	"time"
)

// Policy executa uma operação com retry de delay fixo e full jitter: cada
// tentativa dorme um valor sorteado em [Delay*(1-Jitter), Delay], evitando
// que tentativas concorrentes acordem em rajada sobre o mesmo recurso.
type Policy struct {
	// Delay é o teto do intervalo entre tentativas.
	Delay time.Duration

	// Jitter é a fração do delay sorteada, entre 0 (delay fixo) e 1 (full
	// jitter).
	Jitter float64

	// MaxAttempts limita o número de tentativas; 0 significa ilimitado.
	MaxAttempts int

	// Classify decide se um erro é transitório e deve ser retentado. Nil
	// retenta qualquer erro.
	Classify func(error) bool
}

// Do executa op até sucesso, erro não-retentável, limite de tentativas ou
// cancelamento do contexto.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempt := 0
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}

		attempt++
		if p.Classify != nil && !p.Classify(err) {
			return err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.nextDelay()):
		}
	}
}

func (p Policy) nextDelay() time.Duration {
	if p.Jitter <= 0 {
		return p.Delay
	}
	jitter := p.Jitter
	if jitter > 1 {
		jitter = 1
	}
	base := float64(p.Delay)
	return time.Duration(base*(1-jitter) + rand.Float64()*base*jitter)
}
