package server

import (
	"context"
	"net/http"

	"PIIReview/logger"
	"PIIReview/model"

	"github.com/gorilla/mux"
)

// RecordingStateHandler returns the recorder snapshot.
func (h *APIHandler) RecordingStateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.recorder.Snapshot())
}

// RecordingHandler drives the recorder: start, stop, discard and commit.
func (h *APIHandler) RecordingHandler(w http.ResponseWriter, r *http.Request) {
	var err error
	switch mux.Vars(r)["action"] {
	case "start":
		err = h.recorder.Start(r.Context())
	case "stop":
		ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
		err = h.recorder.Stop(ctx)
		cancel()
	case "discard":
		h.recorder.Discard()
	case "commit":
		h.commitTake(w, r)
		return
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	h.hub.Notify()
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.recorder.Snapshot())
}

type commitResponse struct {
	Take         string `json:"take"`
	Size         int    `json:"size"`
	BatchID      string `json:"batch_id"`
	Object       string `json:"object,omitempty"`
	ArchiveError string `json:"archive_error,omitempty"`
}

// commitTake 把录音作为单文件批次交给上传流程，配置了归档时同时归档，归档失败不影响提交
func (h *APIHandler) commitTake(w http.ResponseWriter, r *http.Request) {
	take, err := h.recorder.Commit()
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := commitResponse{Take: take.Name(), Size: take.Size()}

	if h.archive != nil {
		obj, err := h.archive.Save(r.Context(), take)
		if err != nil {
			logger.Warn("录音归档失败", logger.String("take", take.Name()), logger.ErrorField(err))
			resp.ArchiveError = err.Error()
		} else {
			resp.Object = obj
		}
	}

	files := []*model.Artifact{take}
	batchID, err := h.workspace.SetFiles(files)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp.BatchID = batchID
	h.submitAsync(batchID, files, h.defaults)
	h.hub.Notify()

	writeJSON(w, http.StatusOK, resp)
}
