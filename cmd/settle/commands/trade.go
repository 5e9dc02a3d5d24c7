package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/settlement"
)

var cashFlowsCmd = &cobra.Command{
	Use:   "cashflows <request.json>",
	Short: "List one trade's cash flows before netting",
	Args:  cobra.ExactArgs(1),
	RunE:  runCashFlows,
}

var presentValueCmd = &cobra.Command{
	Use:   "pv <request.json>",
	Short: "Value an open position at a clean price",
	Args:  cobra.ExactArgs(1),
	RunE:  runPresentValue,
}

func init() {
	rootCmd.AddCommand(cashFlowsCmd)
	rootCmd.AddCommand(presentValueCmd)
}

func runCashFlows(cmd *cobra.Command, args []string) error {
	var req settlement.TradeCashFlowsRequest
	if err := readRequest(cmd, args[0], &req); err != nil {
		return err
	}
	if err := req.Facility.Validate(); err != nil {
		return err
	}
	e := engine
	if req.Epsilon != nil {
		e = engine.WithEpsilon(*req.Epsilon)
	}

	req.Trade.Facility = &req.Facility
	flows, err := e.TradeCashFlows(req.ValuationDate, req.Trade)
	if err != nil {
		return err
	}
	if flows == nil {
		flows = []model.AnnotatedCashFlow{}
	}
	return printJSON(cmd, settlement.TradeCashFlowsResponse{TradeID: req.Trade.ID, CashFlows: flows})
}

func runPresentValue(cmd *cobra.Command, args []string) error {
	var req settlement.PresentValueRequest
	if err := readRequest(cmd, args[0], &req); err != nil {
		return err
	}
	if !req.CleanPrice.IsPositive() {
		return fmt.Errorf("clean_price must be positive")
	}
	if err := req.Facility.Validate(); err != nil {
		return err
	}

	req.Trade.Facility = &req.Facility
	res, err := engine.PresentValue(req.ValuationDate, req.Trade, req.CleanPrice)
	if err != nil {
		return err
	}
	return printJSON(cmd, settlement.PresentValueResponse{
		TradeID:      req.Trade.ID,
		PresentValue: res.Amount,
		Explain:      res.Explain,
	})
}
