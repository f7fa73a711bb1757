// Package backtest replays published signals against intraday bars under
// IDX trading frictions: board lots, commission, sale tax, manual order
// delay, and volume-proportional slippage.
package backtest

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/idxquant/idxpulse/internal/domain"
)

// Exit reasons recorded on simulated trades.
const (
	ExitTarget  = "target"
	ExitStop    = "stop"
	ExitSession = "session_end"
)

// Config holds the simulation frictions. IDX equities trade in board lots
// of 100 shares; commission applies per side and the sale tax only on
// sells.
type Config struct {
	Capital         float64
	LotSize         int
	CommissionRate  float64
	SaleTaxRate     float64
	ManualDelayBars int
	SlippageFactor  float64
}

// DefaultConfig returns standard IDX retail frictions.
func DefaultConfig() Config {
	return Config{
		Capital:         100_000_000,
		LotSize:         100,
		CommissionRate:  0.0005,
		SaleTaxRate:     0.001,
		ManualDelayBars: 1,
		SlippageFactor:  0.1,
	}
}

// Trade is one simulated round trip.
type Trade struct {
	Ticker      string           `json:"ticker"`
	Direction   domain.Direction `json:"direction"`
	Lots        int              `json:"lots"`
	EntryTime   time.Time        `json:"entry_time"`
	EntryPrice  float64          `json:"entry_price"`
	ExitTime    time.Time        `json:"exit_time"`
	ExitPrice   float64          `json:"exit_price"`
	ExitReason  string           `json:"exit_reason"`
	GrossReturn float64          `json:"gross_return"`
	NetPnL      float64          `json:"net_pnl"`
}

// Result aggregates a batch of simulated trades.
type Result struct {
	Trades  []Trade `json:"trades"`
	Skipped int     `json:"skipped"`
	NetPnL  float64 `json:"net_pnl"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	WinRate float64 `json:"win_rate"`
}

// Simulator replays signals against recorded bars.
type Simulator struct {
	cfg Config
}

// NewSimulator creates a simulator with the given frictions.
func NewSimulator(cfg Config) *Simulator {
	if cfg.LotSize <= 0 {
		cfg.LotSize = 100
	}
	return &Simulator{cfg: cfg}
}

// Run simulates every BUY and SELL signal against its ticker's bars. HOLD
// signals and signals without tradable history are counted as skipped.
func (s *Simulator) Run(signals []domain.TradeSignal, barsByTicker map[string][]domain.Bar) Result {
	var result Result
	for _, sig := range signals {
		if sig.Direction == domain.DirectionHold {
			result.Skipped++
			continue
		}
		trade, err := s.Simulate(sig, barsByTicker[sig.Ticker])
		if err != nil {
			log.Debug().Str("signal", sig.ID).Err(err).Msg("Signal not tradable in simulation")
			result.Skipped++
			continue
		}
		result.Trades = append(result.Trades, trade)
		result.NetPnL += trade.NetPnL
		if trade.NetPnL > 0 {
			result.Wins++
		} else {
			result.Losses++
		}
	}
	if traded := len(result.Trades); traded > 0 {
		result.WinRate = float64(result.Wins) / float64(traded)
	}
	return result
}

// Simulate replays a single signal. Entry happens at the open of the bar
// ManualDelayBars after the signal, with slippage proportional to the
// order's share of that bar's volume. The position then walks forward bar
// by bar until stop, target, or end of data; when one bar spans both
// levels the stop fills first.
func (s *Simulator) Simulate(sig domain.TradeSignal, bars []domain.Bar) (Trade, error) {
	if sig.StopLoss <= 0 || sig.TargetPrice <= 0 {
		return Trade{}, fmt.Errorf("signal %s has no stop or target", sig.ID)
	}
	bars = barsAfter(bars, sig.GeneratedAt)
	if len(bars) <= s.cfg.ManualDelayBars {
		return Trade{}, fmt.Errorf("no bars after signal %s", sig.ID)
	}
	entryBar := bars[s.cfg.ManualDelayBars]

	lots := int(s.cfg.Capital / (entryBar.Open * float64(s.cfg.LotSize)))
	if lots < 1 {
		return Trade{}, fmt.Errorf("capital too small for one lot of %s", sig.Ticker)
	}
	shares := float64(lots * s.cfg.LotSize)
	entryPrice := s.slip(entryBar, shares, sig.Direction == domain.DirectionBuy)

	trade := Trade{
		Ticker:     sig.Ticker,
		Direction:  sig.Direction,
		Lots:       lots,
		EntryTime:  entryBar.Timestamp,
		EntryPrice: entryPrice,
	}

	exitPrice, exitTime, reason := s.walk(sig, bars[s.cfg.ManualDelayBars:])
	trade.ExitPrice = exitPrice
	trade.ExitTime = exitTime
	trade.ExitReason = reason

	if sig.Direction == domain.DirectionBuy {
		trade.GrossReturn = (exitPrice - entryPrice) / entryPrice
	} else {
		trade.GrossReturn = (entryPrice - exitPrice) / entryPrice
	}
	trade.NetPnL = s.netPnL(sig.Direction, entryPrice, exitPrice, shares)
	return trade, nil
}

// walk advances bar by bar until the stop or target fills.
func (s *Simulator) walk(sig domain.TradeSignal, bars []domain.Bar) (price float64, at time.Time, reason string) {
	long := sig.Direction == domain.DirectionBuy
	for _, bar := range bars {
		if long {
			if bar.Low <= sig.StopLoss {
				return sig.StopLoss, bar.Timestamp, ExitStop
			}
			if bar.High >= sig.TargetPrice {
				return sig.TargetPrice, bar.Timestamp, ExitTarget
			}
		} else {
			if bar.High >= sig.StopLoss {
				return sig.StopLoss, bar.Timestamp, ExitStop
			}
			if bar.Low <= sig.TargetPrice {
				return sig.TargetPrice, bar.Timestamp, ExitTarget
			}
		}
	}
	last := bars[len(bars)-1]
	return last.Close, last.Timestamp, ExitSession
}

// slip moves the fill against the order in proportion to its share of the
// bar's volume.
func (s *Simulator) slip(bar domain.Bar, shares float64, buying bool) float64 {
	if bar.Volume <= 0 {
		return bar.Open
	}
	impact := s.cfg.SlippageFactor * math.Min(shares/bar.Volume, 1.0)
	if buying {
		return bar.Open * (1 + impact)
	}
	return bar.Open * (1 - impact)
}

// netPnL applies commission on both sides and sale tax on the sell side.
func (s *Simulator) netPnL(direction domain.Direction, entry, exit, shares float64) float64 {
	entryNotional := entry * shares
	exitNotional := exit * shares
	commission := (entryNotional + exitNotional) * s.cfg.CommissionRate

	var gross, saleTax float64
	if direction == domain.DirectionBuy {
		gross = exitNotional - entryNotional
		saleTax = exitNotional * s.cfg.SaleTaxRate
	} else {
		gross = entryNotional - exitNotional
		saleTax = entryNotional * s.cfg.SaleTaxRate
	}
	return gross - commission - saleTax
}

func barsAfter(bars []domain.Bar, t time.Time) []domain.Bar {
	sorted := append([]domain.Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	idx := sort.Search(len(sorted), func(i int) bool { return sorted[i].Timestamp.After(t) })
	return sorted[idx:]
}
