package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/meshnetworks/toll/src/engine"
	"github.com/meshnetworks/toll/src/ledger"
)

// maxSaneFee caps operator-set local fees; anything above it is assumed to be
// a typo rather than a price.
const maxSaneFee = 999999999

// Service exposes the operator HTTP API.
type Service struct {
	sync.Mutex

	bindAddress string
	engine      *engine.Engine
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, e *engine.Engine, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		engine:      e,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of the
// http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering Toll API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/neighbors", s.makeHandler(s.GetNeighbors))
	http.HandleFunc("/debts", s.makeHandler(s.GetDebts))
	http.HandleFunc("/debts/", s.makeHandler(s.GetDebt))
	http.HandleFunc("/forgive/", s.makeHandler(s.Forgive))
	http.HandleFunc("/usage", s.makeHandler(s.GetUsage))
	http.HandleFunc("/local_fee", s.makeHandler(s.GetLocalFee))
	http.HandleFunc("/local_fee/", s.makeHandler(s.SetLocalFee))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary to
// call Serve when another server has already been started with the
// DefaultServerMux and the same address:port combination.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving Toll API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// jsonDebt is the API rendering of a debt entry. Amounts are decimal strings
// because JSON numbers cannot carry arbitrary precision.
type jsonDebt struct {
	Key            string `json:"key"`
	Balance        string `json:"balance"`
	Enforcing      bool   `json:"enforcing"`
	LastTraffic    string `json:"last_traffic"`
	LastSettlement string `json:"last_settlement"`
}

func renderDebt(d *ledger.DebtEntry) jsonDebt {
	return jsonDebt{
		Key:            d.Key,
		Balance:        d.Balance.Text(10),
		Enforcing:      d.Enforcing,
		LastTraffic:    d.LastTraffic.String(),
		LastSettlement: d.LastSettlement.String(),
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetNeighbors ...
func (s *Service) GetNeighbors(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.engine.Neighbors())
}

// GetDebts ...
func (s *Service) GetDebts(w http.ResponseWriter, r *http.Request) {
	debts := s.engine.Debts()

	res := make([]jsonDebt, len(debts))
	for i, d := range debts {
		res[i] = renderDebt(d)
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}

// GetDebt ...
func (s *Service) GetDebt(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path[len("/debts/"):]

	d, err := s.engine.Debt(key)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving debt %s", key)

		http.Error(w, err.Error(), http.StatusNotFound)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(renderDebt(d))
}

// Forgive zeroes a neighbor's balance. Operator override; POST only.
func (s *Service) Forgive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "forgive requires POST", http.StatusMethodNotAllowed)
		return
	}

	key := r.URL.Path[len("/forgive/"):]

	if err := s.engine.Forgive(key); err != nil {
		s.logger.WithError(err).Errorf("Forgiving debt %s", key)

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetUsage returns the closed usage rounds, plus the open one. The skip query
// parameter returns only rounds with a greater index.
func (s *Service) GetUsage(w http.ResponseWriter, r *http.Request) {
	skip := -1
	if param := r.URL.Query().Get("skip"); param != "" {
		var err error
		skip, err = strconv.Atoi(param)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	closed, err := s.engine.Usage(skip)
	if err != nil {
		// rolled off the window
		http.Error(w, err.Error(), http.StatusGone)
		return
	}

	res := struct {
		Closed  []interface{} `json:"closed"`
		Current interface{}   `json:"current"`
	}{
		Closed: make([]interface{}, len(closed)),
	}
	for i := range closed {
		res.Closed[i] = closed[i]
	}
	if cur := s.engine.CurrentUsage(); cur != nil {
		res.Current = cur
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}

// GetLocalFee ...
func (s *Service) GetLocalFee(w http.ResponseWriter, r *http.Request) {
	fee, err := s.engine.LocalFee()
	if err != nil {
		s.logger.WithError(err).Error("Retrieving local fee")

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(map[string]uint64{"local_fee": fee})
}

// SetLocalFee updates the advertised local fee; POST only.
func (s *Service) SetLocalFee(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "local_fee requires POST", http.StatusMethodNotAllowed)
		return
	}

	param := r.URL.Path[len("/local_fee/"):]

	fee, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing fee parameter %s", param)

		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if fee > maxSaneFee {
		http.Error(w, "fee exceeds sane maximum", http.StatusBadRequest)
		return
	}

	if err := s.engine.SetLocalFee(fee); err != nil {
		s.logger.WithError(err).Error("Setting local fee")

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusOK)
}
