package server

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/buaazp/fasthttprouter"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"gitlab.com/crypto_project/core/execution_service/src/service"
)

var log *zap.Logger

func init() {
	log, _ = zap.NewProduction()
	log = log.With(zap.String("logger", "server"))
}

// RunServer exposes the command and status surface over HTTP. Every handler
// translates to a canonical command on the run's event channel.
func RunServer(addr string, wg *sync.WaitGroup) {
	defer wg.Done()

	router := fasthttprouter.New()
	router.GET("/status", status)
	router.POST("/stop", stop)
	router.POST("/update_price", updatePrice)
	router.POST("/update_qty", updateQty)
	router.POST("/cancel_all", cancelAll)
	router.POST("/extend_timeout", extendTimeout)

	log.Info("API listening", zap.String("addr", addr))
	if err := fasthttp.ListenAndServe(addr, router.Handler); err != nil {
		log.Error("ListenAndServe", zap.Error(err))
	}
}

func status(ctx *fasthttp.RequestCtx) {
	snapshot, err := service.GetExecutionService().Status()
	if err != nil {
		writeError(ctx, fasthttp.StatusConflict, err)
		return
	}
	ctx.SetContentType("application/json")
	encoded, _ := json.Marshal(snapshot)
	ctx.SetBody(encoded)
}

func stop(ctx *fasthttp.RequestCtx) {
	if err := service.GetExecutionService().Stop(); err != nil {
		writeError(ctx, fasthttp.StatusConflict, err)
		return
	}
	writeOK(ctx)
}

func updatePrice(ctx *fasthttp.RequestCtx) {
	price, err := floatArg(ctx, "price")
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	if err := service.GetExecutionService().UpdatePrice(price); err != nil {
		writeError(ctx, fasthttp.StatusConflict, err)
		return
	}
	writeOK(ctx)
}

func updateQty(ctx *fasthttp.RequestCtx) {
	quantity, err := floatArg(ctx, "quantity")
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	if err := service.GetExecutionService().UpdateQty(quantity); err != nil {
		writeError(ctx, fasthttp.StatusConflict, err)
		return
	}
	writeOK(ctx)
}

func cancelAll(ctx *fasthttp.RequestCtx) {
	if err := service.GetExecutionService().CancelAll(); err != nil {
		writeError(ctx, fasthttp.StatusConflict, err)
		return
	}
	writeOK(ctx)
}

func extendTimeout(ctx *fasthttp.RequestCtx) {
	seconds, err := floatArg(ctx, "seconds")
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	if err := service.GetExecutionService().ExtendTimeout(int64(seconds)); err != nil {
		writeError(ctx, fasthttp.StatusConflict, err)
		return
	}
	writeOK(ctx)
}

// floatArg reads a numeric parameter from the query string or a JSON body.
func floatArg(ctx *fasthttp.RequestCtx, name string) (float64, error) {
	if arg := ctx.QueryArgs().Peek(name); len(arg) > 0 {
		return strconv.ParseFloat(string(arg), 64)
	}
	body := ctx.PostBody()
	if len(body) > 0 {
		var payload map[string]float64
		if err := json.Unmarshal(body, &payload); err != nil {
			return 0, fmt.Errorf("bad request body: %w", err)
		}
		if value, ok := payload[name]; ok {
			return value, nil
		}
	}
	return 0, fmt.Errorf("missing parameter %q", name)
}

func writeOK(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"status":"OK"}`)
}

func writeError(ctx *fasthttp.RequestCtx, code int, err error) {
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	encoded, _ := json.Marshal(map[string]string{"status": "ERR", "message": err.Error()})
	ctx.SetBody(encoded)
}
