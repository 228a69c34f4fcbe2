package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"csms/internal/models"
	"csms/internal/station"

	"github.com/juju/loggo"
	"github.com/pkg/errors"
)

var log = loggo.GetLogger("csms.billing")

// PayerDirectory resolves a payer's notification endpoint and credential.
// Absent payers come back as (nil, nil).
type PayerDirectory interface {
	Get(ctx context.Context, payerID string) (*models.Payer, error)
}

// TariffSource resolves the active unit price for a device. May be nil, in
// which case the configured default price applies.
type TariffSource interface {
	GetActiveForDevice(ctx context.Context, deviceID string) (*models.Tariff, error)
}

// Recorder persists completed charges. May be nil.
type Recorder interface {
	Insert(ctx context.Context, c models.ChargeRecord) (string, error)
	MarkNotified(ctx context.Context, chargeID string, t time.Time) error
}

type Settings struct {
	// RetryInterval is the fixed delay between delivery attempts.
	RetryInterval time.Duration
	// MaxAttempts caps delivery attempts; 0 retries forever.
	MaxAttempts      int
	DefaultUnitPrice float64
	Currency         string
}

// Notifier computes the billable amount for a finished charge and posts it
// to the payer's notification endpoint. A failed delivery moves to a
// background loop retrying at a fixed interval until a non-error response
// or the attempt cap. The charge-stop caller never sees delivery failures.
type Notifier struct {
	payers   PayerDirectory
	tariffs  TariffSource
	recorder Recorder
	httpc    *http.Client
	settings Settings

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

func New(payers PayerDirectory, tariffs TariffSource, recorder Recorder, settings Settings) *Notifier {
	if settings.RetryInterval <= 0 {
		settings.RetryInterval = 5 * time.Second
	}
	return &Notifier{
		payers:   payers,
		tariffs:  tariffs,
		recorder: recorder,
		httpc:    &http.Client{Timeout: 15 * time.Second},
		settings: settings,
		stop:     make(chan struct{}),
	}
}

// Amount is the billable amount for a charge: hours of delivered power at
// the unit price, rounded up to the cent.
func Amount(hours, power, unitPrice float64) float64 {
	return math.Ceil(hours*power*unitPrice*100) / 100
}

type notification struct {
	PayerID    string  `json:"payerId"`
	DeviceID   string  `json:"deviceId"`
	DeviceName string  `json:"deviceName"`
	SocketID   int     `json:"socketId"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
}

// NotifyAndBill implements station.Biller. The first delivery attempt runs
// inline; failure hands off to the background retry loop and returns.
func (n *Notifier) NotifyAndBill(ctx context.Context, bill station.Bill) {
	hours := float64(bill.EndedAt.Sub(bill.StartedAt).Milliseconds()) / 3_600_000
	if hours < 0 {
		hours = 0
	}

	price := n.settings.DefaultUnitPrice
	currency := n.settings.Currency
	if n.tariffs != nil {
		tariff, err := n.tariffs.GetActiveForDevice(ctx, bill.DeviceID)
		if err != nil {
			log.Warningf("tariff lookup for device %s failed, using default price: %v", bill.DeviceID, err)
		} else if tariff != nil {
			price = tariff.UnitPrice
			currency = tariff.Currency
		}
	}
	amount := Amount(hours, bill.Power, price)

	var chargeID string
	if n.recorder != nil {
		id, err := n.recorder.Insert(ctx, models.ChargeRecord{
			DeviceID:  bill.DeviceID,
			SocketID:  bill.SocketID,
			PayerID:   bill.PayerID,
			StartedAt: bill.StartedAt,
			EndedAt:   bill.EndedAt,
			Power:     bill.Power,
			Amount:    amount,
			Currency:  currency,
		})
		if err != nil {
			log.Errorf("recording charge for device %s socket %d: %v", bill.DeviceID, bill.SocketID, err)
		} else {
			chargeID = id
		}
	}

	note := notification{
		PayerID:    bill.PayerID,
		DeviceID:   bill.DeviceID,
		DeviceName: bill.DeviceName,
		SocketID:   bill.SocketID,
		Amount:     amount,
		Currency:   currency,
	}
	if err := n.deliver(ctx, note); err == nil {
		n.markNotified(chargeID)
		return
	} else {
		log.Warningf("bill delivery to payer %s failed, retrying every %s: %v", note.PayerID, n.settings.RetryInterval, err)
	}

	n.wg.Add(1)
	go n.retryLoop(note, chargeID)
}

func (n *Notifier) retryLoop(note notification, chargeID string) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.settings.RetryInterval)
	defer ticker.Stop()

	attempts := 1
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
		}
		attempts++
		if err := n.deliver(context.Background(), note); err == nil {
			log.Infof("bill delivered to payer %s after %d attempts", note.PayerID, attempts)
			n.markNotified(chargeID)
			return
		} else {
			log.Debugf("bill delivery to payer %s attempt %d failed: %v", note.PayerID, attempts, err)
		}
		if n.settings.MaxAttempts > 0 && attempts >= n.settings.MaxAttempts {
			log.Errorf("giving up on bill delivery to payer %s after %d attempts", note.PayerID, attempts)
			return
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, note notification) error {
	payer, err := n.payers.Get(ctx, note.PayerID)
	if err != nil {
		return errors.Wrap(err, "resolving payer")
	}
	if payer == nil {
		return errors.Errorf("payer %s has no notification endpoint", note.PayerID)
	}

	body, err := json.Marshal(note)
	if err != nil {
		return errors.Wrap(err, "encoding notification")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payer.NotifyURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "building notification request")
	}
	req.Header.Set("Content-Type", "application/json")
	if payer.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+payer.Credential)
	}

	resp, err := n.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "posting notification")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) markNotified(chargeID string) {
	if n.recorder == nil || chargeID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.recorder.MarkNotified(ctx, chargeID, time.Now().UTC()); err != nil {
		log.Errorf("marking charge %s notified: %v", chargeID, err)
	}
}

// Stop cancels all pending retry loops and waits for them to finish.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() { close(n.stop) })
	n.wg.Wait()
}
