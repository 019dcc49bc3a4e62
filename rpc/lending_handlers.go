package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"lendpool/crypto"
)

type lendAmountParams struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type lendLiquidateParams struct {
	Liquidator  string `json:"liquidator"`
	Account     string `json:"account"`
	RepayAsset  string `json:"repayAsset"`
	RewardAsset string `json:"rewardAsset"`
}

type lendAccountParams struct {
	Account string `json:"account"`
}

type lendAssetParams struct {
	Asset     string `json:"asset"`
	PriceFeed string `json:"priceFeed"`
}

type lendEventsParams struct {
	Limit int `json:"limit,omitempty"`
}

type lendAckResult struct {
	OK bool `json:"ok"`
}

type lendHealthFactorResult struct {
	Address      string `json:"address"`
	HealthFactor string `json:"healthFactor"`
}

func decodeBech32(value string) (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(value))
}

func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

func (s *Server) parseAmountParams(w http.ResponseWriter, req *RPCRequest) (crypto.Address, string, *big.Int, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return crypto.Address{}, "", nil, false
	}
	var params lendAmountParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return crypto.Address{}, "", nil, false
	}
	account, err := decodeBech32(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account", err.Error())
		return crypto.Address{}, "", nil, false
	}
	if strings.TrimSpace(params.Asset) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
		return crypto.Address{}, "", nil, false
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return crypto.Address{}, "", nil, false
	}
	return account, params.Asset, amount, true
}

func (s *Server) handleLendDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	account, asset, amount, ok := s.parseAmountParams(w, req)
	if !ok {
		return
	}
	if moduleErr := s.lending.Deposit(account, asset, amount); moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, lendAckResult{OK: true})
}

func (s *Server) handleLendWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	account, asset, amount, ok := s.parseAmountParams(w, req)
	if !ok {
		return
	}
	if moduleErr := s.lending.Withdraw(account, asset, amount); moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, lendAckResult{OK: true})
}

func (s *Server) handleLendBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	account, asset, amount, ok := s.parseAmountParams(w, req)
	if !ok {
		return
	}
	if moduleErr := s.lending.Borrow(account, asset, amount); moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, lendAckResult{OK: true})
}

func (s *Server) handleLendRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	account, asset, amount, ok := s.parseAmountParams(w, req)
	if !ok {
		return
	}
	if moduleErr := s.lending.Repay(account, asset, amount); moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, lendAckResult{OK: true})
}

func (s *Server) handleLendLiquidate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params lendLiquidateParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	liquidator, err := decodeBech32(params.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid liquidator", err.Error())
		return
	}
	account, err := decodeBech32(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account", err.Error())
		return
	}
	if strings.TrimSpace(params.RepayAsset) == "" || strings.TrimSpace(params.RewardAsset) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "repayAsset and rewardAsset required", nil)
		return
	}
	if moduleErr := s.lending.Liquidate(liquidator, account, params.RepayAsset, params.RewardAsset); moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, lendAckResult{OK: true})
}

func (s *Server) parseAccountParam(w http.ResponseWriter, req *RPCRequest) (crypto.Address, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected account parameter", nil)
		return crypto.Address{}, false
	}
	var direct string
	if err := json.Unmarshal(req.Params[0], &direct); err != nil {
		var wrapped lendAccountParams
		if err := json.Unmarshal(req.Params[0], &wrapped); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account parameter", err.Error())
			return crypto.Address{}, false
		}
		direct = wrapped.Account
	}
	account, err := decodeBech32(direct)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account", err.Error())
		return crypto.Address{}, false
	}
	return account, true
}

func (s *Server) handleLendGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	account, ok := s.parseAccountParam(w, req)
	if !ok {
		return
	}
	position, moduleErr := s.lending.GetPosition(account)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, position)
}

func (s *Server) handleLendGetHealthFactor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	account, ok := s.parseAccountParam(w, req)
	if !ok {
		return
	}
	factor, moduleErr := s.lending.GetHealthFactor(account)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, lendHealthFactorResult{Address: account.String(), HealthFactor: factor})
}

func (s *Server) handleLendListAssets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	assets, moduleErr := s.lending.ListAssets()
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, assets)
}

func (s *Server) handleLendSetAllowedAsset(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params lendAssetParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	if strings.TrimSpace(params.Asset) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
		return
	}
	if strings.TrimSpace(params.PriceFeed) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "priceFeed required", nil)
		return
	}
	if moduleErr := s.lending.SetAllowedAsset(params.Asset, params.PriceFeed); moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, lendAckResult{OK: true})
}

func (s *Server) handleLendRecentEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	limit := 0
	if len(req.Params) == 1 {
		var params lendEventsParams
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
			return
		}
		limit = params.Limit
	} else if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "too many parameters", nil)
		return
	}
	entries, moduleErr := s.lending.RecentEvents(limit)
	if moduleErr != nil {
		writeError(w, moduleErr.HTTPStatus, req.ID, moduleErr.Code, moduleErr.Message, moduleErr.Data)
		return
	}
	writeResult(w, req.ID, entries)
}
