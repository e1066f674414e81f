package rpc

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

type arbRegisterParams struct {
	Caller        string   `json:"caller"`
	Currencies    []string `json:"currencies"`
	EncryptionKey string   `json:"encryptionKey"`
}

func (s *Server) handleArbRegister(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params arbRegisterParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	var key []byte
	if trimmed := strings.TrimSpace(params.EncryptionKey); trimmed != "" {
		trimmed = strings.TrimPrefix(trimmed, "0x")
		key, err = hex.DecodeString(trimmed)
		if err != nil {
			writeInvalidParams(w, req.ID, fmt.Errorf("encryptionKey: %w", err))
			return
		}
	}
	info, err := s.node.RegisterArbitrator(caller, params.Currencies, key)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newArbitratorJSON(caller, info))
}

type arbCurrencyParams struct {
	Caller     string `json:"caller"`
	Arbitrator string `json:"arbitrator"`
	Currency   string `json:"currency"`
}

func (s *Server) handleArbRemoveCurrency(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params arbCurrencyParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	arbitrator := caller
	if strings.TrimSpace(params.Arbitrator) != "" {
		arbitrator, err = parseAddress(params.Arbitrator)
		if err != nil {
			writeInvalidParams(w, req.ID, fmt.Errorf("arbitrator: %w", err))
			return
		}
	}
	if err := s.node.RemoveArbitratorCurrency(caller, arbitrator, params.Currency); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.writeArbitrator(w, req, arbitrator)
}

type arbAddressParams struct {
	Caller     string `json:"caller"`
	Arbitrator string `json:"arbitrator"`
}

func (s *Server) handleArbDeactivate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params arbAddressParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	arbitrator, err := parseAddress(params.Arbitrator)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("arbitrator: %w", err))
		return
	}
	if err := s.node.DeactivateArbitrator(caller, arbitrator); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.writeArbitrator(w, req, arbitrator)
}

func (s *Server) handleArbGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params arbAddressParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	arbitrator, err := parseAddress(params.Arbitrator)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("arbitrator: %w", err))
		return
	}
	s.writeArbitrator(w, req, arbitrator)
}

func (s *Server) writeArbitrator(w http.ResponseWriter, req *RPCRequest, arbitrator [20]byte) {
	info, ok, err := s.node.GetArbitrator(arbitrator)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeTradeNotFound, "arbitrator not registered", addressHex(arbitrator))
		return
	}
	writeResult(w, req.ID, newArbitratorJSON(arbitrator, info))
}

type arbProviderParams struct {
	Caller   string `json:"caller"`
	Provider string `json:"provider"`
}

func (s *Server) handleArbConfigureProvider(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params arbProviderParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	var provider [20]byte
	if strings.TrimSpace(params.Provider) != "" {
		provider, err = parseAddress(params.Provider)
		if err != nil {
			writeInvalidParams(w, req.ID, fmt.Errorf("provider: %w", err))
			return
		}
	}
	if err := s.node.ConfigureRandomnessProvider(caller, provider); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	result := map[string]interface{}{"enabled": provider != ([20]byte{})}
	if provider != ([20]byte{}) {
		result["provider"] = addressHex(provider)
	}
	writeResult(w, req.ID, result)
}

type arbFulfillParams struct {
	Caller      string `json:"caller"`
	RequestID   string `json:"requestId"`
	RandomValue string `json:"randomValue"`
}

func (s *Server) handleArbFulfillRandomness(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params arbFulfillParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	randomValue, err := parseAmount(params.RandomValue)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("randomValue: %w", err))
		return
	}
	if err := s.node.FulfillArbitratorSelection(caller, params.RequestID, randomValue); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"fulfilled": true})
}
