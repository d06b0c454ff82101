package strategy

import (
	"fmt"
	"math"

	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/metadata"
)

// ratioStressMove 认购比率价差无上限一侧的压力测试涨幅
const ratioStressMove = 0.15

func newLeg(chain *model.ChainSnapshot, action model.LegAction, t model.OptionType, row model.StrikeRow, qty int) model.Leg {
	q := row.Quote(t)
	return model.Leg{
		Action:     action,
		OptionType: t,
		Strike:     row.Strike,
		Expiration: chain.Expiration,
		Quantity:   qty,
		Symbol:     metadata.OCCSymbol(chain.Ticker, chain.Expiration, t, row.Strike),
		Price:      q.Price,
		Quote:      q,
	}
}

func typeLabel(t model.OptionType) string {
	if t == model.OptionPut {
		return "PUT"
	}
	return "CALL"
}

func fmtStrike(k float64) string {
	return fmt.Sprintf("%g", k)
}

// creditSide 信用价差默认方向：看涨卖 put，其余卖 call
func creditSide(d model.Direction) model.OptionType {
	if d == model.DirectionBullish {
		return model.OptionPut
	}
	return model.OptionCall
}

// debitSide 借方价差默认方向：看跌买 put，其余买 call
func debitSide(d model.Direction) model.OptionType {
	if d == model.DirectionBearish {
		return model.OptionPut
	}
	return model.OptionCall
}

// buildCreditSpread 卖出 target delta，买入外侧一个翼宽
func buildCreditSpread(req Request) BuildResult {
	kind := model.KindCreditSpread
	chain := req.Chain
	t := creditSide(req.Direction)
	above := t == model.OptionCall

	short, ok := SelectStrike(chain, t, req.TargetDelta)
	if !ok {
		return failed(kind, "no short strike near delta %.2f", req.TargetDelta)
	}
	long, ok := wingStrike(chain, short.Strike, WingWidth(chain, req.Underlying), above)
	if !ok {
		return failed(kind, "no wing strike beyond %s", fmtStrike(short.Strike))
	}

	credit := short.Quote(t).Price - long.Quote(t).Price
	if credit <= 0 {
		return failed(kind, "credit spread has no net credit (%.2f)", credit)
	}
	width := math.Abs(long.Strike - short.Strike)
	if credit >= width {
		return failed(kind, "credit %.2f not below width %.2f", credit, width)
	}

	return BuildResult{
		Legs: []model.Leg{
			newLeg(chain, model.SellToOpen, t, short, 1),
			newLeg(chain, model.BuyToOpen, t, long, 1),
		},
		StrategyName: fmt.Sprintf("Credit Spread (%s %s/%s)", typeLabel(t), fmtStrike(short.Strike), fmtStrike(long.Strike)),
		NetPremium:   credit,
		MaxProfit:    credit * model.ContractMultiplier,
		MaxLoss:      (width - credit) * model.ContractMultiplier,
	}
}

// buildDebitSpread 买入 target delta，卖出外侧一个翼宽
func buildDebitSpread(req Request) BuildResult {
	kind := model.KindDebitSpread
	chain := req.Chain
	t := debitSide(req.Direction)
	above := t == model.OptionCall

	long, ok := SelectStrike(chain, t, req.TargetDelta)
	if !ok {
		return failed(kind, "no long strike near delta %.2f", req.TargetDelta)
	}
	short, ok := wingStrike(chain, long.Strike, WingWidth(chain, req.Underlying), above)
	if !ok {
		return failed(kind, "no wing strike beyond %s", fmtStrike(long.Strike))
	}

	debit := long.Quote(t).Price - short.Quote(t).Price
	if debit <= 0 {
		return failed(kind, "debit spread has no net debit (%.2f)", debit)
	}
	width := math.Abs(short.Strike - long.Strike)
	if debit >= width {
		return failed(kind, "debit %.2f not below width %.2f", debit, width)
	}

	return BuildResult{
		Legs: []model.Leg{
			newLeg(chain, model.BuyToOpen, t, long, 1),
			newLeg(chain, model.SellToOpen, t, short, 1),
		},
		StrategyName: fmt.Sprintf("Debit Spread (%s %s/%s)", typeLabel(t), fmtStrike(long.Strike), fmtStrike(short.Strike)),
		NetPremium:   -debit,
		MaxLoss:      debit * model.ContractMultiplier,
		MaxProfit:    (width - debit) * model.ContractMultiplier,
	}
}

// buildIronCondor 两侧各卖 target delta，各买外侧一个翼宽
func buildIronCondor(req Request) BuildResult {
	kind := model.KindIronCondor
	chain := req.Chain
	width := WingWidth(chain, req.Underlying)

	shortCall, ok := SelectStrike(chain, model.OptionCall, req.TargetDelta)
	if !ok {
		return failed(kind, "no short call near delta %.2f", req.TargetDelta)
	}
	shortPut, ok := SelectStrike(chain, model.OptionPut, req.TargetDelta)
	if !ok {
		return failed(kind, "no short put near delta %.2f", req.TargetDelta)
	}
	if shortPut.Strike >= shortCall.Strike {
		return failed(kind, "short strikes overlap (%s/%s)", fmtStrike(shortPut.Strike), fmtStrike(shortCall.Strike))
	}
	longCall, ok := wingStrike(chain, shortCall.Strike, width, true)
	if !ok {
		return failed(kind, "no call wing beyond %s", fmtStrike(shortCall.Strike))
	}
	longPut, ok := wingStrike(chain, shortPut.Strike, width, false)
	if !ok {
		return failed(kind, "no put wing below %s", fmtStrike(shortPut.Strike))
	}

	credit := shortCall.Call.Price + shortPut.Put.Price - longCall.Call.Price - longPut.Put.Price
	if credit <= 0 {
		return failed(kind, "iron condor has no net credit (%.2f)", credit)
	}
	maxWidth := math.Max(longCall.Strike-shortCall.Strike, shortPut.Strike-longPut.Strike)
	if credit >= maxWidth {
		return failed(kind, "credit %.2f not below width %.2f", credit, maxWidth)
	}

	return BuildResult{
		Legs: []model.Leg{
			newLeg(chain, model.BuyToOpen, model.OptionPut, longPut, 1),
			newLeg(chain, model.SellToOpen, model.OptionPut, shortPut, 1),
			newLeg(chain, model.SellToOpen, model.OptionCall, shortCall, 1),
			newLeg(chain, model.BuyToOpen, model.OptionCall, longCall, 1),
		},
		StrategyName: fmt.Sprintf("Iron Condor (%s/%s/%s/%s)",
			fmtStrike(longPut.Strike), fmtStrike(shortPut.Strike), fmtStrike(shortCall.Strike), fmtStrike(longCall.Strike)),
		NetPremium: credit,
		MaxProfit:  credit * model.ContractMultiplier,
		MaxLoss:    (maxWidth - credit) * model.ContractMultiplier,
	}
}

// buildIronButterfly 在平值同时卖出 call 与 put，两侧各买一个翼宽
func buildIronButterfly(req Request) BuildResult {
	kind := model.KindIronButterfly
	chain := req.Chain
	width := WingWidth(chain, req.Underlying)

	body, ok := atmRow(chain)
	if !ok {
		return failed(kind, "no at-the-money strike")
	}
	longCall, ok := wingStrike(chain, body.Strike, width, true)
	if !ok {
		return failed(kind, "no call wing beyond %s", fmtStrike(body.Strike))
	}
	longPut, ok := wingStrike(chain, body.Strike, width, false)
	if !ok {
		return failed(kind, "no put wing below %s", fmtStrike(body.Strike))
	}

	credit := body.Call.Price + body.Put.Price - longCall.Call.Price - longPut.Put.Price
	if credit <= 0 {
		return failed(kind, "iron butterfly has no net credit (%.2f)", credit)
	}
	maxWidth := math.Max(longCall.Strike-body.Strike, body.Strike-longPut.Strike)
	if credit >= maxWidth {
		return failed(kind, "credit %.2f not below width %.2f", credit, maxWidth)
	}

	return BuildResult{
		Legs: []model.Leg{
			newLeg(chain, model.BuyToOpen, model.OptionPut, longPut, 1),
			newLeg(chain, model.SellToOpen, model.OptionPut, body, 1),
			newLeg(chain, model.SellToOpen, model.OptionCall, body, 1),
			newLeg(chain, model.BuyToOpen, model.OptionCall, longCall, 1),
		},
		StrategyName: fmt.Sprintf("Iron Butterfly (%s/%s/%s)",
			fmtStrike(longPut.Strike), fmtStrike(body.Strike), fmtStrike(longCall.Strike)),
		NetPremium: credit,
		MaxProfit:  credit * model.ContractMultiplier,
		MaxLoss:    (maxWidth - credit) * model.ContractMultiplier,
	}
}

// buildStraddle 平值同时买入 call 与 put
func buildStraddle(req Request) BuildResult {
	kind := model.KindStraddle
	chain := req.Chain

	atm, ok := atmRow(chain)
	if !ok {
		return failed(kind, "no at-the-money strike")
	}
	debit := atm.Call.Price + atm.Put.Price
	if debit <= 0 {
		return failed(kind, "straddle has no net debit (%.2f)", debit)
	}

	// 收益无上限；MaxProfit 取 15% 波动下的估算值
	move := req.Underlying * ratioStressMove
	return BuildResult{
		Legs: []model.Leg{
			newLeg(chain, model.BuyToOpen, model.OptionCall, atm, 1),
			newLeg(chain, model.BuyToOpen, model.OptionPut, atm, 1),
		},
		StrategyName: fmt.Sprintf("Straddle (%s)", fmtStrike(atm.Strike)),
		NetPremium:   -debit,
		MaxLoss:      debit * model.ContractMultiplier,
		MaxProfit:    math.Max(move-debit, 0) * model.ContractMultiplier,
		Unlimited:    true,
	}
}

// buildRatioSpread 1×2 比率价差：买入 1 张 target delta，卖出 2 张外侧翼宽
// 要求净收入权利金
func buildRatioSpread(req Request) BuildResult {
	kind := model.KindRatioSpread
	chain := req.Chain
	t := debitSide(req.Direction)
	above := t == model.OptionCall

	long, ok := SelectStrike(chain, t, req.TargetDelta)
	if !ok {
		return failed(kind, "no long strike near delta %.2f", req.TargetDelta)
	}
	short, ok := wingStrike(chain, long.Strike, WingWidth(chain, req.Underlying), above)
	if !ok {
		return failed(kind, "no short strike beyond %s", fmtStrike(long.Strike))
	}

	credit := 2*short.Quote(t).Price - long.Quote(t).Price
	if credit <= 0 {
		return failed(kind, "ratio spread has no net credit (%.2f)", credit)
	}
	width := math.Abs(short.Strike - long.Strike)

	// 最大收益在空头行权价处
	maxProfit := (width + credit) * model.ContractMultiplier

	// 到期损益 = 多头内在价值 - 2×空头内在价值 + 收入
	payoff := func(s float64) float64 {
		return intrinsic(t, s, long.Strike) - 2*intrinsic(t, s, short.Strike) + credit
	}
	var worst float64
	if t == model.OptionCall {
		worst = payoff(req.Underlying * (1 + ratioStressMove))
	} else {
		worst = payoff(0)
	}
	maxLoss := math.Max(-worst, 0) * model.ContractMultiplier

	return BuildResult{
		Legs: []model.Leg{
			newLeg(chain, model.BuyToOpen, t, long, 1),
			newLeg(chain, model.SellToOpen, t, short, 2),
		},
		StrategyName: fmt.Sprintf("Ratio Spread (%s %s/%s x2)", typeLabel(t), fmtStrike(long.Strike), fmtStrike(short.Strike)),
		NetPremium:   credit,
		MaxProfit:    maxProfit,
		MaxLoss:      maxLoss,
		Unlimited:    t == model.OptionCall,
		Notes:        []string{fmt.Sprintf("max loss stressed at %.0f%% move", ratioStressMove*100)},
	}
}

// buildSingle 单腿买入 target delta
func buildSingle(req Request) BuildResult {
	kind := model.KindSingle
	chain := req.Chain
	t := debitSide(req.Direction)

	row, ok := SelectStrike(chain, t, req.TargetDelta)
	if !ok {
		return failed(kind, "no strike near delta %.2f", req.TargetDelta)
	}
	price := row.Quote(t).Price
	if price <= 0 {
		return failed(kind, "option price unavailable at %s", fmtStrike(row.Strike))
	}

	res := BuildResult{
		Legs:         []model.Leg{newLeg(chain, model.BuyToOpen, t, row, 1)},
		StrategyName: fmt.Sprintf("Single Leg (%s %s)", typeLabel(t), fmtStrike(row.Strike)),
		NetPremium:   -price,
		MaxLoss:      price * model.ContractMultiplier,
	}
	if t == model.OptionPut {
		res.MaxProfit = math.Max(row.Strike-price, 0) * model.ContractMultiplier
	} else {
		res.MaxProfit = math.Max(req.Underlying*ratioStressMove-price, 0) * model.ContractMultiplier
		res.Unlimited = true
	}
	return res
}

func intrinsic(t model.OptionType, s, k float64) float64 {
	if t == model.OptionPut {
		return math.Max(k-s, 0)
	}
	return math.Max(s-k, 0)
}
