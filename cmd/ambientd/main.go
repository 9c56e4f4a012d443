// Command ambientd runs the ambient-lighting daemon: one task per
// configured instance, the protocol servers that feed them, and the
// administrative web surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ambientd/internal/bus"
	"ambientd/internal/config"
	"ambientd/internal/instance"
	"ambientd/internal/logging"
	"ambientd/internal/server/boblight"
	"ambientd/internal/server/flatbufserver"
	"ambientd/internal/server/jsonserver"
	"ambientd/internal/server/protobufserver"
	"ambientd/internal/store"
	"ambientd/internal/webapi"
)

func main() {
	storeKind := flag.String("store", "sqlite", "config store backend: sqlite or file")
	configPath := flag.String("config", "ambientd.db", "path to the sqlite database or flat-config YAML file")
	effectsDir := flag.String("effects-dir", "effects", "directory containing effect scripts")
	jsonAddr := flag.String("json-addr", fmt.Sprintf(":%d", jsonserver.DefaultPort), "json protocol listen address")
	protobufAddr := flag.String("protobuf-addr", fmt.Sprintf(":%d", protobufserver.DefaultPort), "protobuf protocol listen address")
	flatbufAddr := flag.String("flatbuf-addr", fmt.Sprintf(":%d", flatbufserver.DefaultPort), "flatbuffers protocol listen address")
	boblightAddr := flag.String("boblight-addr", ":19333", "boblight protocol listen address")
	webAddr := flag.String("web-addr", ":8090", "administrative web surface listen address")
	flag.Parse()

	log, err := logging.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ambientd: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfgStore, err := openStore(*storeKind, *configPath)
	if err != nil {
		log.Fatal("config store unavailable", zap.Error(err))
	}

	gc, err := cfgStore.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	b := bus.New()
	loader := store.NewDirEffectLoader(*effectsDir)

	mgr := newManager(cfgStore)
	for id, ic := range gc.Instances {
		if !ic.Enabled {
			continue
		}
		inst := instance.New(id, ic, b, loader, instance.DefaultNewDevice, logging.For(log, "instance."+id))
		mgr.instances[id] = inst
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for id, inst := range mgr.instances {
		go inst.Run(ctx)
		inst.Control() <- instance.Control{Kind: instance.ControlStart}
		log.Info("instance started", zap.String("instance", id))
	}

	defaultInstance := firstInstanceID(mgr.instances)

	servers := []struct {
		name string
		addr string
		run  func(context.Context, string) error
	}{
		{"json", *jsonAddr, (&jsonserver.Server{InstanceID: defaultInstance, Bus: b, Log: logging.For(log, "jsonserver")}).ListenAndServe},
		{"protobuf", *protobufAddr, (&protobufserver.Server{InstanceID: defaultInstance, Bus: b, Log: logging.For(log, "protobufserver")}).ListenAndServe},
		{"flatbuffers", *flatbufAddr, (&flatbufserver.Server{InstanceID: defaultInstance, Bus: b, Log: logging.For(log, "flatbufserver")}).ListenAndServe},
		{"boblight", *boblightAddr, (&boblight.Server{InstanceID: defaultInstance, Bus: b, LightCount: ledCountFor(gc, defaultInstance), Log: logging.For(log, "boblight")}).ListenAndServe},
	}

	for _, srv := range servers {
		if defaultInstance == "" {
			break
		}
		srv := srv
		go func() {
			if err := srv.run(ctx, srv.addr); err != nil {
				log.Error("protocol server exited", zap.String("protocol", srv.name), zap.Error(err))
			}
		}()
		log.Info("protocol server listening", zap.String("protocol", srv.name), zap.String("addr", srv.addr))
	}

	router := webapi.NewRouter(mgr)
	httpServer := &http.Server{Addr: *webAddr, Handler: router}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("web api exited", zap.Error(err))
		}
	}()
	log.Info("web api listening", zap.String("addr", *webAddr))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func openStore(kind, path string) (config.Store, error) {
	switch kind {
	case "file":
		return store.NewFileStore(path), nil
	default:
		return store.OpenSQLite(path)
	}
}

func ledCountFor(gc config.GlobalConfig, instanceID string) int {
	if ic, ok := gc.Instances[instanceID]; ok {
		return ic.Layout.Len()
	}
	return 0
}

func firstInstanceID(instances map[string]*instance.Instance) string {
	for id := range instances {
		return id
	}
	return ""
}
