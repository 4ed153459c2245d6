// Copyright (c) 2019 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/unrolled/render"

	"github.com/gbpvpp/agent/plugins/controller/api"
)

const (
	// prefix used for REST urls of the controller.
	urlPrefix = "/controller/"

	// eventHistoryURL is URL used to obtain the event history.
	eventHistoryURL = urlPrefix + "event-history"

	// event-history arguments (by precedence):
	//   * seq-num
	//   * last (max. number of latest records to return)
	seqNumArg = "seq-num"
	lastArg   = "last"

	// resyncURL is URL used to trigger a full re-render.
	resyncURL = urlPrefix + "resync"
)

// errorString wraps string representation of an error that, unlike the
// original error, can be marshalled.
type errorString struct {
	Error string
}

// registerHandlers registers all supported REST APIs.
func (c *Controller) registerHandlers() {
	c.HTTPHandlers.RegisterHTTPHandler(eventHistoryURL, c.eventHistoryGetHandler, "GET")
	c.HTTPHandlers.RegisterHTTPHandler(resyncURL, c.resyncReqHandler, "POST")
}

// eventHistoryGetHandler is the GET handler for "event-history" API.
func (c *Controller) eventHistoryGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		history := c.EventHistory()
		args := req.URL.Query()

		if param, withParam := args[seqNumArg]; withParam && len(param) == 1 {
			seqNum, err := strconv.Atoi(param[0])
			if err != nil {
				formatter.JSON(w, http.StatusBadRequest, errorString{err.Error()})
				return
			}
			for _, event := range history {
				if event.SeqNum == uint64(seqNum) {
					formatter.JSON(w, http.StatusOK, event)
					return
				}
			}
			err = errors.New("event with such sequence number is not recorded")
			formatter.JSON(w, http.StatusNotFound, errorString{err.Error()})
			return
		}

		if param, withParam := args[lastArg]; withParam && len(param) == 1 {
			last, err := strconv.Atoi(param[0])
			if err != nil {
				formatter.JSON(w, http.StatusBadRequest, errorString{err.Error()})
				return
			}
			if last > len(history) {
				last = len(history)
			}
			formatter.JSON(w, http.StatusOK, history[len(history)-last:])
			return
		}

		formatter.JSON(w, http.StatusOK, history)
	}
}

// resyncReqHandler is the POST handler for "resync" API.
func (c *Controller) resyncReqHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := c.PushEvent(&api.Resync{}); err != nil {
			formatter.JSON(w, http.StatusInternalServerError, errorString{err.Error()})
			return
		}
		formatter.JSON(w, http.StatusOK, "Resync request was successfully dispatched.")
	}
}
