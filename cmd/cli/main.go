package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"automl-forecast-engine/dataset"
)

const (
	defaultServerURL = "http://localhost:8080"
	version          = "0.1.0"
)

type CLIConfig struct {
	ServerURL string
	Token     string
	Verbose   bool
}

func main() {
	var (
		serverURL = flag.String("server", defaultServerURL, "Forecast server URL")
		token     = flag.String("token", "", "Bearer token for authenticated servers")
		verbose   = flag.Bool("v", false, "Verbose output")
		command   = flag.String("cmd", "", "Command to execute")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help || *command == "" {
		showHelp()
		return
	}

	config := CLIConfig{
		ServerURL: *serverURL,
		Token:     *token,
		Verbose:   *verbose,
	}

	args := flag.Args()

	switch *command {
	case "upload":
		handleUpload(config, args)
	case "train":
		handleTrain(config, args)
	case "status":
		handleStatus(config, args)
	case "comparison":
		handleComparison(config, args)
	case "backtest":
		handleBacktest(config, args)
	case "models":
		handleModels(config, args)
	case "deploy":
		handleDeploy(config, args)
	case "forecast":
		handleForecast(config, args)
	case "health":
		handleHealth(config)
	default:
		fmt.Printf("Unknown command: %s\n", *command)
		showHelp()
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Printf(`AutoML Forecast Engine CLI v%s

USAGE:
    forecast-cli --cmd <command> [options] [args]

COMMANDS:
    upload     - Upload a CSV dataset
    train      - Start an AutoML training run
    status     - Poll a training run until it finishes
    comparison - Show the per-algorithm comparison of a finished run
    backtest   - Walk one configuration forward across a dataset
    models     - List trained models
    deploy     - Deploy a trained model
    forecast   - Generate a forecast from a model
    health     - Check system health

WORKFLOW:
    # 1. Upload a CSV with date and target columns
    forecast-cli --cmd upload --file sales.csv --date-column date --target-column revenue

    # 2. Train across algorithm families
    forecast-cli --cmd train --dataset <id> --algorithms treeboost,leafboost,arima \
        --horizon 30 --max-trials 20 --timeout 600

    # 3. Wait for completion and compare
    forecast-cli --cmd status --run <run-id> --wait
    forecast-cli --cmd comparison --run <run-id>

    # 4. Backtest a chosen configuration window by window
    forecast-cli --cmd backtest --dataset <id> --algorithm arima --folds 5 --horizon 30

    # 5. Forecast with the winning model
    forecast-cli --cmd models --dataset <id>
    forecast-cli --cmd forecast --model <model-id> --horizon 30 --confidence 0.95

OPTIONS:
    --server   Server URL (default: %s)
    --token    Bearer token for authenticated servers
    --v        Verbose output
    --help     Show this help message

`, version, defaultServerURL)
}

func handleUpload(config CLIConfig, args []string) {
	var (
		file       = getArg(args, "--file", "")
		dateCol    = getArg(args, "--date-column", "date")
		targetCol  = getArg(args, "--target-column", "value")
		featConfig = getArg(args, "--feature-columns", "")
		dateFormat = getArg(args, "--date-format", "")
	)
	if file == "" {
		fmt.Println("Error: --file is required")
		return
	}

	var featureCols []string
	if featConfig != "" {
		featureCols = strings.Split(featConfig, ",")
	}
	ref, err := dataset.LoadCSV(file, "", strings.TrimSuffix(file, ".csv"), dataset.CSVOptions{
		DateColumn:     dateCol,
		TargetColumn:   targetCol,
		FeatureColumns: featureCols,
		DateFormat:     dateFormat,
	})
	if err != nil {
		fmt.Printf("Error reading CSV: %v\n", err)
		return
	}

	// Re-encode for the upload endpoint.
	timestamps := make([]string, ref.Len())
	for i, ts := range ref.Timestamps {
		timestamps[i] = ts.Format(time.RFC3339)
	}
	body := map[string]interface{}{
		"name":       ref.Name,
		"timestamps": timestamps,
		"values":     ref.Target,
	}
	if len(ref.Features) > 0 {
		body["features"] = ref.Features
	}

	var resp struct {
		ID        string `json:"id"`
		Rows      int    `json:"rows"`
		Frequency string `json:"frequency"`
	}
	if err := postJSON(config, "/api/v1/datasets", body, &resp); err != nil {
		fmt.Printf("Error uploading dataset: %v\n", err)
		return
	}

	fmt.Printf("✓ Uploaded %d rows at frequency %s\n", resp.Rows, resp.Frequency)
	fmt.Printf("  Dataset ID: %s\n", resp.ID)
}

func handleTrain(config CLIConfig, args []string) {
	var (
		datasetID  = getArg(args, "--dataset", "")
		algorithms = getArg(args, "--algorithms", "decomposition,arima,treeboost,leafboost")
		horizon    = atoiArg(args, "--horizon", 30)
		maxTrials  = atoiArg(args, "--max-trials", 20)
		timeout    = atoiArg(args, "--timeout", 600)
	)
	if datasetID == "" {
		fmt.Println("Error: --dataset is required")
		return
	}

	body := map[string]interface{}{
		"dataset_id":      datasetID,
		"algorithms":      strings.Split(algorithms, ","),
		"horizon":         horizon,
		"max_trials":      maxTrials,
		"timeout_seconds": timeout,
	}

	var run struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := postJSON(config, "/api/v1/training/automl", body, &run); err != nil {
		fmt.Printf("Error starting training: %v\n", err)
		return
	}

	fmt.Printf("✓ Training run started: %s (status: %s)\n", run.ID, run.Status)
	fmt.Printf("  Poll with: forecast-cli --cmd status --run %s --wait\n", run.ID)
}

func handleStatus(config CLIConfig, args []string) {
	runID := getArg(args, "--run", "")
	wait := hasFlag(args, "--wait")
	if runID == "" {
		fmt.Println("Error: --run is required")
		return
	}

	for {
		var run struct {
			Status        string `json:"status"`
			BestAlgorithm string `json:"best_algorithm"`
			BestModelID   string `json:"best_model_id"`
			Error         string `json:"error"`
			Elapsed       int64  `json:"elapsed"`
		}
		if err := getJSON(config, "/api/v1/training/runs/"+runID, &run); err != nil {
			fmt.Printf("Error polling run: %v\n", err)
			return
		}

		fmt.Printf("Run %s: %s (elapsed %v)\n", runID, run.Status, time.Duration(run.Elapsed))
		if run.Status == "completed" {
			fmt.Printf("✓ Best algorithm: %s\n", run.BestAlgorithm)
			fmt.Printf("  Best model ID:  %s\n", run.BestModelID)
			return
		}
		if run.Status == "failed" {
			fmt.Printf("✗ Run failed: %s\n", run.Error)
			return
		}
		if !wait {
			return
		}
		time.Sleep(2 * time.Second)
	}
}

func handleComparison(config CLIConfig, args []string) {
	runID := getArg(args, "--run", "")
	if runID == "" {
		fmt.Println("Error: --run is required")
		return
	}

	var cmp struct {
		Status        string `json:"status"`
		BestAlgorithm string `json:"best_algorithm"`
		Results       []struct {
			Algorithm string   `json:"algorithm"`
			Status    string   `json:"status"`
			Trials    int      `json:"trials"`
			MAPE      *float64 `json:"mape"`
			RMSE      *float64 `json:"rmse"`
			Error     string   `json:"error"`
		} `json:"results"`
	}
	if err := getJSON(config, "/api/v1/training/runs/"+runID+"/comparison", &cmp); err != nil {
		fmt.Printf("Error fetching comparison: %v\n", err)
		return
	}

	fmt.Printf("Run %s (%s), best: %s\n\n", runID, cmp.Status, cmp.BestAlgorithm)
	fmt.Printf("%-15s %-18s %7s %10s %10s\n", "ALGORITHM", "STATUS", "TRIALS", "MAPE", "RMSE")
	for _, r := range cmp.Results {
		mape, rmse := "-", "-"
		if r.MAPE != nil {
			mape = fmt.Sprintf("%.2f%%", *r.MAPE)
		}
		if r.RMSE != nil {
			rmse = fmt.Sprintf("%.2f", *r.RMSE)
		}
		marker := " "
		if r.Algorithm == cmp.BestAlgorithm {
			marker = "*"
		}
		fmt.Printf("%s%-14s %-18s %7d %10s %10s\n", marker, r.Algorithm, r.Status, r.Trials, mape, rmse)
		if r.Error != "" {
			fmt.Printf("    error: %s\n", r.Error)
		}
	}
}

func handleBacktest(config CLIConfig, args []string) {
	var (
		datasetID = getArg(args, "--dataset", "")
		algorithm = getArg(args, "--algorithm", "")
		folds     = atoiArg(args, "--folds", 0)
		horizon   = atoiArg(args, "--horizon", 0)
		paramsRaw = getArg(args, "--params", "")
	)
	if datasetID == "" || algorithm == "" {
		fmt.Println("Error: --dataset and --algorithm are required")
		return
	}

	body := map[string]interface{}{
		"dataset_id": datasetID,
		"algorithm":  algorithm,
	}
	if folds > 0 {
		body["folds"] = folds
	}
	if horizon > 0 {
		body["horizon"] = horizon
	}
	if paramsRaw != "" {
		var params map[string]interface{}
		if err := json.Unmarshal([]byte(paramsRaw), &params); err != nil {
			fmt.Printf("Error: invalid --params JSON: %v\n", err)
			return
		}
		body["hyperparameters"] = params
	}

	var result struct {
		Algorithm string `json:"algorithm"`
		Windows   []struct {
			Fold struct {
				TrainEnd int `json:"train_end"`
				ValStart int `json:"val_start"`
				ValEnd   int `json:"val_end"`
			} `json:"fold"`
			Metrics struct {
				MAPE float64 `json:"mape"`
				RMSE float64 `json:"rmse"`
			} `json:"metrics"`
		} `json:"windows"`
		Overall struct {
			MAPE float64 `json:"mape"`
			RMSE float64 `json:"rmse"`
			MAE  float64 `json:"mae"`
			R2   float64 `json:"r2"`
		} `json:"overall"`
	}
	if err := postJSON(config, "/api/v1/training/backtest", body, &result); err != nil {
		fmt.Printf("Error running backtest: %v\n", err)
		return
	}

	fmt.Printf("Walk-forward backtest of %s (%d windows):\n\n", result.Algorithm, len(result.Windows))
	fmt.Printf("%-8s %11s %13s %10s %10s\n", "WINDOW", "TRAIN ROWS", "VAL RANGE", "MAPE", "RMSE")
	for i, wnd := range result.Windows {
		valRange := fmt.Sprintf("%d-%d", wnd.Fold.ValStart, wnd.Fold.ValEnd)
		fmt.Printf("%-8d %11d %13s %9.2f%% %10.2f\n",
			i+1, wnd.Fold.TrainEnd, valRange, wnd.Metrics.MAPE, wnd.Metrics.RMSE)
	}
	fmt.Printf("\nOverall: MAPE=%.2f%% RMSE=%.2f MAE=%.2f R2=%.3f\n",
		result.Overall.MAPE, result.Overall.RMSE, result.Overall.MAE, result.Overall.R2)
}

func handleModels(config CLIConfig, args []string) {
	datasetID := getArg(args, "--dataset", "")
	path := "/api/v1/models"
	if datasetID != "" {
		path += "?dataset_id=" + datasetID
	}

	var resp struct {
		Models []struct {
			ID        string  `json:"id"`
			Algorithm string  `json:"algorithm"`
			Status    string  `json:"status"`
			IsBest    bool    `json:"is_best"`
			Metrics   struct{ MAPE float64 `json:"mape"` } `json:"metrics"`
		} `json:"models"`
		Count int `json:"count"`
	}
	if err := getJSON(config, path, &resp); err != nil {
		fmt.Printf("Error listing models: %v\n", err)
		return
	}

	fmt.Printf("%d model(s)\n\n", resp.Count)
	for _, m := range resp.Models {
		marker := " "
		if m.IsBest {
			marker = "*"
		}
		fmt.Printf("%s %s  %-15s %-10s MAPE=%.2f%%\n", marker, m.ID, m.Algorithm, m.Status, m.Metrics.MAPE)
	}
}

func handleDeploy(config CLIConfig, args []string) {
	modelID := getArg(args, "--model", "")
	if modelID == "" {
		fmt.Println("Error: --model is required")
		return
	}
	var resp map[string]string
	if err := postJSON(config, "/api/v1/models/"+modelID+"/deploy", nil, &resp); err != nil {
		fmt.Printf("Error deploying model: %v\n", err)
		return
	}
	fmt.Printf("✓ Model %s deployed\n", modelID)
}

func handleForecast(config CLIConfig, args []string) {
	var (
		modelID    = getArg(args, "--model", "")
		horizon    = atoiArg(args, "--horizon", 30)
		confidence = getArg(args, "--confidence", "0.95")
	)
	if modelID == "" {
		fmt.Println("Error: --model is required")
		return
	}
	var conf float64
	if _, err := fmt.Sscanf(confidence, "%f", &conf); err != nil {
		fmt.Printf("Error: invalid confidence '%s'\n", confidence)
		return
	}

	var fc struct {
		Algorithm string `json:"algorithm"`
		Points    []struct {
			Timestamp time.Time `json:"timestamp"`
			Value     float64   `json:"value"`
			Lower     float64   `json:"lower"`
			Upper     float64   `json:"upper"`
		} `json:"points"`
	}
	err := postJSON(config, "/api/v1/forecast", map[string]interface{}{
		"model_id":   modelID,
		"horizon":    horizon,
		"confidence": conf,
	}, &fc)
	if err != nil {
		fmt.Printf("Error generating forecast: %v\n", err)
		return
	}

	fmt.Printf("Forecast from %s model (%d steps, %.0f%% interval):\n\n", fc.Algorithm, len(fc.Points), conf*100)
	fmt.Printf("%-12s %12s %12s %12s\n", "DATE", "FORECAST", "LOWER", "UPPER")
	for _, p := range fc.Points {
		fmt.Printf("%-12s %12.2f %12.2f %12.2f\n",
			p.Timestamp.Format("2006-01-02"), p.Value, p.Lower, p.Upper)
	}
}

func handleHealth(config CLIConfig) {
	var health map[string]interface{}
	if err := getJSON(config, "/health", &health); err != nil {
		fmt.Printf("✗ Server unreachable: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Server healthy (uptime %v)\n", health["uptime"])
}

// HTTP helpers

func postJSON(config CLIConfig, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest("POST", config.ServerURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(config, req, out)
}

func getJSON(config CLIConfig, path string, out interface{}) error {
	req, err := http.NewRequest("GET", config.ServerURL+path, nil)
	if err != nil {
		return err
	}
	return doRequest(config, req, out)
}

func doRequest(config CLIConfig, req *http.Request, out interface{}) error {
	if config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+config.Token)
	}
	if config.Verbose {
		fmt.Printf("> %s %s\n", req.Method, req.URL)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Argument helpers

func getArg(args []string, name, def string) string {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, name+"=") {
			return strings.TrimPrefix(arg, name+"=")
		}
	}
	return def
}

func atoiArg(args []string, name string, def int) int {
	raw := getArg(args, name, "")
	if raw == "" {
		return def
	}
	var val int
	if _, err := fmt.Sscanf(raw, "%d", &val); err != nil {
		return def
	}
	return val
}

func hasFlag(args []string, name string) bool {
	for _, arg := range args {
		if arg == name {
			return true
		}
	}
	return false
}
