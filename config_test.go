package qsvm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewConfig(t *testing.T) {
	Convey("Given the default config", t, func() {
		cfg := NewConfig()

		Convey("It should describe the two-class simulator run", func() {
			So(cfg.Device.Name, ShouldEqual, "simulator")
			So(cfg.Device.Embedding, ShouldEqual, "angle")
			So(cfg.Dataset.Features, ShouldResemble, []string{"color_intensity", "hue"})
			So(cfg.Dataset.Classes, ShouldResemble, []int{0, 1})
			So(cfg.Split.TrainSize, ShouldEqual, 6)
			So(cfg.Split.TestSize, ShouldEqual, 2)
			So(cfg.Dispatcher.MinWorkers, ShouldBeLessThanOrEqualTo, cfg.Dispatcher.MaxWorkers)
		})
	})
}

func TestLoadConfig(t *testing.T) {
	Convey("Given a config file", t, func() {
		path := filepath.Join(t.TempDir(), "qsvm.yaml")
		err := os.WriteFile(path, []byte(`
dispatcher:
  max_workers: 3
  electron_timeout: 2s
device:
  embedding: qaoa
  layers: 3
dataset:
  classes: [0, 1, 2]
split:
  train_size: 9
  seed: 7
`), 0o644)
		So(err, ShouldBeNil)

		Convey("LoadConfig should layer it over the defaults", func() {
			cfg, err := LoadConfig(path)
			So(err, ShouldBeNil)

			So(cfg.Dispatcher.MaxWorkers, ShouldEqual, 3)
			So(cfg.Dispatcher.ElectronTimeout, ShouldEqual, 2*time.Second)
			So(cfg.Device.Embedding, ShouldEqual, "qaoa")
			So(cfg.Device.Layers, ShouldEqual, 3)
			So(cfg.Dataset.Classes, ShouldResemble, []int{0, 1, 2})
			So(cfg.Split.TrainSize, ShouldEqual, 9)
			So(cfg.Split.Seed, ShouldEqual, uint64(7))

			So(cfg.Dispatcher.MinWorkers, ShouldEqual, 2)
			So(cfg.Split.TestSize, ShouldEqual, 2)
			So(cfg.Device.Name, ShouldEqual, "simulator")
		})

		Convey("Environment variables should override the file", func() {
			t.Setenv("QSVM_DEVICE_SHOTS", "512")
			t.Setenv("QSVM_SPLIT_TRAIN_SIZE", "12")

			cfg, err := LoadConfig(path)
			So(err, ShouldBeNil)
			So(cfg.Device.Shots, ShouldEqual, 512)
			So(cfg.Split.TrainSize, ShouldEqual, 12)
		})
	})

	Convey("Given a missing config file", t, func() {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		So(err, ShouldNotBeNil)
	})
}
