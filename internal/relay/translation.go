package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/petervdpas/parley/internal/metrics"
	"github.com/petervdpas/parley/internal/proto"
	"github.com/petervdpas/parley/internal/translate"
)

// TranslationRelay turns transcript fragments from one side of a call into
// translation results delivered to both sides.
type TranslationRelay struct {
	pm      *PairingManager
	chain   *translate.Swappable
	timeout time.Duration

	// Engine calls run detached from the caller; wg lets shutdown and tests
	// wait for them.
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewTranslationRelay(pm *PairingManager, chain *translate.Swappable, timeout time.Duration) *TranslationRelay {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TranslationRelay{pm: pm, chain: chain, timeout: timeout, ctx: ctx, cancel: cancel}
}

// Submit handles one TranslateFragment from s. It returns ErrNotInCall when s
// is not linked; every other outcome is either a delivery or a silent drop.
func (tr *TranslationRelay) Submit(s *Session, m proto.Message) error {
	partner, ok := tr.pm.Partner(s)
	if !ok {
		return proto.ErrNotInCall
	}
	if translate.IsBlank(m.Text) {
		return nil
	}

	res := proto.Message{
		Type:      proto.TypeTranslation,
		Original:  m.Text,
		FromLang:  m.FromLang,
		ToLang:    m.ToLang,
		IsInterim: m.IsInterim,
		Speaker:   s.ID,
		Seq:       s.nextSeq(),
	}

	if !translate.ShouldTranslate(m.Text, m.FromLang, m.ToLang) {
		metrics.Translations.WithLabelValues("passthrough").Inc()
		res.Translated = m.Text
		tr.deliver(s, partner, res)
		return nil
	}

	chain := tr.chain.Load()
	if chain == nil {
		chain = &translate.Chain{}
	}
	text := translate.Normalize(m.Text)
	tr.wg.Add(1)
	go func() {
		defer tr.wg.Done()
		ctx, cancel := context.WithTimeout(tr.ctx, tr.timeout)
		defer cancel()

		start := time.Now()
		out, outcome, err := chain.Translate(ctx, text, m.FromLang, m.ToLang)
		metrics.TranslationDuration.Observe(time.Since(start).Seconds())
		metrics.Translations.WithLabelValues(outcome.String()).Inc()
		if err != nil {
			log.Printf("TRANSLATE [%s]: engines failed, sending original: %v", s.ID, err)
		} else if outcome == translate.OutcomeFallback {
			log.Printf("TRANSLATE [%s]: served by fallback engine", s.ID)
		}
		res.Translated = out
		tr.deliver(s, partner, res)
	}()
	return nil
}

// deliver sends res to the requester and its partner, but only if the two
// are still linked to each other. A call that ended while the engine was
// working gets nothing.
func (tr *TranslationRelay) deliver(s, partner *Session, res proto.Message) {
	cur, ok := tr.pm.Partner(s)
	if !ok || cur != partner {
		log.Printf("TRANSLATE [%s]: call ended, result #%d dropped", s.ID, res.Seq)
		return
	}
	res.Timestamp = proto.NowMillis()
	s.deliver(res)
	partner.deliver(res)
}

// Wait blocks until in-flight engine calls finish.
func (tr *TranslationRelay) Wait() { tr.wg.Wait() }

// Close cancels in-flight engine calls and waits for them.
func (tr *TranslationRelay) Close() {
	tr.cancel()
	tr.wg.Wait()
}
