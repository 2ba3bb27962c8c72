package tp

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/pvriel/macaroons"
	"github.com/pvriel/macaroons/internal/merr"
)

// TP is a third-party discharge service. Mount [TP.HandleDischargeRequest]
// at [DischargePath] under Location.
type TP struct {
	// Location is the advisory location minters put on caveats pointing at
	// this service. It is also stamped onto issued discharges.
	Location string

	// Key is the encryption key shared with minters; tickets are sealed
	// under it.
	Key string

	// Crypto is the provider used to unseal tickets and mint discharges.
	// nil means [macaroons.DefaultCrypto].
	Crypto macaroons.Crypto

	// Store, if set, caches issued discharges by ticket digest so replayed
	// requests are answered without re-minting.
	Store Store

	Log logrus.FieldLogger

	// Attenuate returns the policy caveats this service adds to a
	// discharge, based on the request and the ticket note. nil means no
	// caveats are added.
	Attenuate func(r *http.Request, note []byte) ([]macaroons.FirstPartyCaveat, error)
}

func (tp *TP) crypto() macaroons.Crypto {
	if tp.Crypto != nil {
		return tp.Crypto
	}
	return macaroons.DefaultCrypto
}

func (tp *TP) getLog(r *http.Request) logrus.FieldLogger {
	log := tp.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	return log.WithFields(logrus.Fields{
		"remote": r.RemoteAddr,
		"path":   r.URL.Path,
	})
}

// HandleDischargeRequest answers a POSTed discharge request: it unseals the
// ticket, applies the service's policy, and responds with a freshly minted
// (or cached) discharge token.
func (tp *TP) HandleDischargeRequest(w http.ResponseWriter, r *http.Request) {
	log := tp.getLog(r)

	var jr jsonDischargeRequest
	if err := json.NewDecoder(r.Body).Decode(&jr); err != nil || len(jr.Ticket) == 0 {
		log.WithError(err).Warn("read/parse discharge request")
		tp.respondError(w, http.StatusBadRequest, "bad request")
		return
	}

	th := hashTicket(jr.Ticket)
	log = log.WithField("ticket", th[:8])

	if tp.Store != nil {
		if token, ok := tp.Store.Get(th); ok {
			log.Info("replayed discharge")
			tp.respond(w, &jsonDischargeResponse{Discharge: token})
			return
		}
	}

	ticket, err := DecodeTicket(tp.crypto(), tp.Key, jr.Ticket)
	if err != nil {
		log.WithError(err).Warn("unseal ticket")
		tp.respondError(w, http.StatusBadRequest, "bad ticket")
		return
	}

	discharge, err := macaroons.MintWith(tp.crypto(), ticket.RootKey, jr.Ticket, tp.Location)
	if err != nil {
		log.WithError(err).Warn("mint discharge")
		tp.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if tp.Attenuate != nil {
		caveats, err := tp.Attenuate(r, ticket.Note)
		if err != nil {
			log.WithError(err).Info("policy refused discharge")
			tp.respondError(w, http.StatusForbidden, "forbidden")
			return
		}

		var addErr error
		for _, cav := range caveats {
			if _, err := discharge.AddFirstParty(cav); err != nil {
				addErr = merr.Appendf(addErr, "appending %q: %w", cav.ID(), err)
			}
		}
		if addErr != nil {
			log.WithError(addErr).Warn("attenuate discharge")
			tp.respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	token, err := discharge.String()
	if err != nil {
		log.WithError(err).Warn("encode discharge")
		tp.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if tp.Store != nil {
		tp.Store.Set(th, token)
	}

	log.WithField("caveats", len(discharge.Caveats)).Info("issued discharge")
	tp.respond(w, &jsonDischargeResponse{Discharge: token})
}

func (tp *TP) respond(w http.ResponseWriter, jr *jsonDischargeResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jr)
}

func (tp *TP) respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&jsonDischargeResponse{Error: msg})
}
