// Command mlefit fits a linear or logistic regression by maximum
// likelihood on a CSV dataset (last column the response, all other
// columns the design matrix) and reports point estimates with
// asymptotic and profile confidence intervals.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/rasigadelab/Rshadow/ad"
	"github.com/rasigadelab/Rshadow/infer"
	"github.com/rasigadelab/Rshadow/models"
	"github.com/rasigadelab/Rshadow/solve"
)

var (
	family    = "linear"
	level     = 0.95
	profile   = false
	verbose   = false
	maxIter   = solve.DefaultConfig().MaxIterations
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "mlefit [OPTIONS] data.csv\n")
		flag.PrintDefaults()
	}
	flag.StringVar(&family, "family", family, `response family: "linear" or "logistic"`)
	flag.Float64Var(&level, "level", level, "confidence level for intervals")
	flag.BoolVar(&profile, "profile", profile, "also compute profile-likelihood intervals")
	flag.BoolVar(&verbose, "verbose", verbose, "log each Newton iteration")
	flag.IntVar(&maxIter, "maxiter", maxIter, "maximum Newton iterations")
}

func main() {
	flag.Parse()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if flag.NArg() != 1 {
		log.Fatal().Msg("expected exactly one data.csv argument")
	}
	x, y, err := readCSV(flag.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Msg("reading data file")
	}
	log.Info().Int("rows", len(y)).Int("cols", len(x[0])).Str("family", family).Msg("loaded dataset")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	p := len(x[0])
	betaInit := make([]float64, p)
	for i := range betaInit {
		betaInit[i] = 0.01 * rng.NormFloat64()
	}

	tape := ad.NewTape()
	var objective, beta *ad.Spy
	var sigma *ad.Spy
	switch family {
	case "linear":
		objective, beta, sigma, err = models.LinearRegression(tape, x, y, betaInit, 0)
	case "logistic":
		objective, beta, err = models.LogisticRegression(tape, x, y, betaInit)
	default:
		log.Fatal().Str("family", family).Msg(`unknown family, want "linear" or "logistic"`)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("building objective")
	}
	_ = objective

	cfg := solve.DefaultConfig()
	cfg.MaxIterations = maxIter
	cfg.DiagnosticMode = verbose

	tr := ad.NewTrace(tape)
	result, err := solve.Maximize(tr, nil, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("maximization failed")
	}
	log.Info().Int("iterations", result.Iterations).Bool("converged", result.Converged).
		Float64("log_likelihood", result.Objective).Msg("fit complete")

	params := make([]int, beta.Len())
	betaBegin := beta.Op.Begin
	for i := range params {
		params[i] = betaBegin + i
	}
	intervals, err := infer.Asymptotic(tr, params, level)
	if err != nil {
		log.Fatal().Err(err).Msg("asymptotic intervals")
	}
	for i, iv := range intervals {
		fmt.Printf("beta[%d] = %.6g  (%.4g%% CI: %.6g, %.6g)\n",
			i, iv.Estimate, 100*level, iv.Lower, iv.Upper)
	}
	if sigma != nil {
		fmt.Printf("sigma = %.6g\n", sigma.Read(tr).Val[0])
	}

	if profile {
		pIntervals, err := infer.ProfileAll(tr, params, level, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("profile intervals")
		}
		for i, iv := range pIntervals {
			fmt.Printf("beta[%d] profile CI: %.6g, %.6g\n", i, iv.Lower, iv.Upper)
		}
	}
}

// readCSV reads a numeric CSV file with the response in the last
// column and returns the design matrix and response vector.
func readCSV(path string) (x [][]float64, y []float64, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		row := make([]float64, len(record))
		for i, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, err
			}
			row[i] = v
		}
		x = append(x, row[:len(row)-1])
		y = append(y, row[len(row)-1])
	}
	return x, y, nil
}
