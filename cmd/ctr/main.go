// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// ctr trains, evaluates, runs inference and exports the CTR models (DeepFM, FM, DNN, FNN, IPNN, OPNN and
// DeepCrossing) over libsvm formatted shards: "train*set", "valid*set" and "tests*set" files in -input_dir.
//
// Each line of a shard is "label idx:val idx:val ...", with exactly field_size pairs.
//
// Model hyperparameters are context parameters: they can be set with -set="param=value;..." or with a YAML file
// given with -config. E.g.:
//
//	$ ctr -input_dir=~/data/criteo -model_dir=~/models/ -algorithm=IPNN -task_mode=train \
//		-set="deep_layers=400,400,400;num_epochs=3"
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/ctrmodels/pkg/cluster"
	"github.com/gomlx/ctrmodels/pkg/config"
	"github.com/gomlx/ctrmodels/pkg/models"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagRunMode     = flag.Int("run_mode", 0, "0: local, 1: single machine distributed, 2: cluster distributed.")
	flagPSHosts     = flag.String("ps_hosts", "", "Comma-separated list of parameter server hosts.")
	flagWorkerHosts = flag.String("worker_hosts", "", "Comma-separated list of worker hosts.")
	flagJobName     = flag.String("job_name", "", "Job name of this process: ps, worker or chief.")
	flagTaskIndex   = flag.Int("task_index", 0, "Index of the task within its job.")
	flagNumThreads  = flag.Int("num_thread", 4, "Maximum number of input files parsed in parallel.")
	flagInputDir    = flag.String("input_dir", "", "Directory with the train*set, valid*set and tests*set files.")
	flagModelDir    = flag.String("model_dir", "", "Prefix of the model checkpoint directory: -file_name is appended to it.")
	flagFileName    = flag.String("file_name", "", "Name of the model files. Defaults to \"<algorithm>_<yesterday>\".")
	flagAlgorithm   = flag.String("algorithm", "", "Model: one of "+strings.Join(models.Names(), ", ")+
		". If empty, the \"algorithm\" context parameter is used.")
	flagTaskMode = flag.String("task_mode", "train", "One of train, eval, infer or export.")
	flagServeDir = flag.String("serve_dir", "", "Directory where the exported model is saved.")
	flagClrMode  = flag.Bool("clr_mode", true, "With -task_mode=train, removes the existing model directory "+
		"before training. Set -clr_mode=false to continue training from the last checkpoint.")
	flagConfig   = flag.String("config", "", "YAML file with context parameters to set, applied before -set.")
)

// Task modes.
const (
	TaskTrain  = "train"
	TaskEval   = "eval"
	TaskInfer  = "infer"
	TaskExport = "export"
)

// options are the command-line settings, other than the context parameters.
type options struct {
	clusterFlags                 cluster.Flags
	numThreads                   int
	inputDir, modelDir, fileName string
	algorithm, taskMode          string
	serveDir                     string
	clearModel                   bool
}

func optionsFromFlags() *options {
	return &options{
		clusterFlags: cluster.Flags{
			RunMode:     cluster.RunMode(*flagRunMode),
			PSHosts:     *flagPSHosts,
			WorkerHosts: *flagWorkerHosts,
			JobName:     *flagJobName,
			TaskIndex:   *flagTaskIndex,
		},
		numThreads: *flagNumThreads,
		inputDir:   fsutil.MustReplaceTildeInDir(*flagInputDir),
		modelDir:   fsutil.MustReplaceTildeInDir(*flagModelDir),
		fileName:   *flagFileName,
		algorithm:  *flagAlgorithm,
		taskMode:   *flagTaskMode,
		serveDir:   fsutil.MustReplaceTildeInDir(*flagServeDir),
		clearModel: *flagClrMode,
	}
}

func main() {
	klog.InitFlags(nil)
	ctx := config.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	flag.Parse()

	var paramsSet []string
	if *flagConfig != "" {
		paramsSet = must.M1(config.LoadYAML(ctx, *flagConfig))
	}
	paramsSet = append(paramsSet, must.M1(commandline.ParseContextSettings(ctx, *settings))...)
	if err := run(ctx, optionsFromFlags(), paramsSet); err != nil {
		klog.Fatalf("Failed: %+v", err)
	}
}

// printInfo prints the settings of the run.
func printInfo(ctx *context.Context, opts *options, modelDir string, paramsSet []string) {
	fmt.Printf("input_dir:\t%s\n", opts.inputDir)
	fmt.Printf("model_dir:\t%s\n", modelDir)
	fmt.Printf("algorithm:\t%s\n", context.GetParamOr(ctx, models.ParamAlgorithm, ""))
	fmt.Printf("task_mode:\t%s\n", opts.taskMode)
	if len(paramsSet) > 0 {
		fmt.Printf("parameters set:\n%s\n", commandline.SprintModifiedContextSettings(ctx, paramsSet))
	}
	if klog.V(1).Enabled() {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}
}

// clearModelDir removes the model directory, logging but otherwise ignoring failures.
func clearModelDir(modelDir string) {
	if err := os.RemoveAll(modelDir); err != nil {
		klog.Warningf("failed to clear existing model in %q: %v", modelDir, err)
		return
	}
	klog.Infof("existing model cleared at %q", modelDir)
}
