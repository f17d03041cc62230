// Command trace-plot renders the batch-size histogram of a recorded NoC trace
// and prints batching statistics. It reads the exchanges table written by
// nocbridge -db, and can also summarise a -pcap capture.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/banshee-data/nocbridge/internal/capture"
	"github.com/banshee-data/nocbridge/internal/db"
	"github.com/banshee-data/nocbridge/internal/stats"
)

const pageSize = 1000

var (
	dbPath   = flag.String("db", "nocbridge_trace.db", "Trace database to read")
	out      = flag.String("out", "batches.png", "Output plot; extension selects png, svg or pdf")
	title    = flag.String("title", "NoC exchange batch sizes", "Plot title")
	pcapPath = flag.String("pcap", "", "Also summarise this capture file")
)

// loadExchanges reads every recorded exchange, pageSize rows at a time.
func loadExchanges(trace *db.DB) (batches, latencyUs []float64, byCause map[string]int, err error) {
	byCause = make(map[string]int)
	for offset := 0; ; offset += pageSize {
		page, err := trace.Exchanges(offset, pageSize)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, ex := range page {
			batches = append(batches, float64(ex.Packets))
			latencyUs = append(latencyUs, float64(ex.Latency)/float64(time.Microsecond))
			byCause[ex.Cause]++
		}
		if len(page) < pageSize {
			return batches, latencyUs, byCause, nil
		}
	}
}

func printDist(w io.Writer, name string, values []float64) {
	d := stats.Summarize(values)
	fmt.Fprintf(w, "%-12s n=%d mean=%.2f sd=%.2f p50=%.2f p95=%.2f max=%.2f\n",
		name, d.N, d.Mean, d.StdDev, d.P50, d.P95, d.Max)
}

func printCauses(w io.Writer, byCause map[string]int) {
	causes := make([]string, 0, len(byCause))
	for c := range byCause {
		causes = append(causes, c)
	}
	sort.Strings(causes)
	for _, c := range causes {
		fmt.Fprintf(w, "  %-18s %d\n", c, byCause[c])
	}
}

func summariseCapture(w io.Writer, path string) error {
	recs, err := capture.ReadFile(path)
	if err != nil {
		return err
	}
	counts := map[capture.Path]int{}
	var payload []float64
	for _, r := range recs {
		counts[r.Path]++
		payload = append(payload, float64(len(r.Packet.Payload)))
	}
	fmt.Fprintf(w, "capture %s: %d sent, %d received\n", path, counts[capture.PathSend], counts[capture.PathReceive])
	if len(payload) > 0 {
		printDist(w, "payload", payload)
	}
	return nil
}

func main() {
	flag.Parse()

	if *pcapPath != "" {
		if err := summariseCapture(os.Stdout, *pcapPath); err != nil {
			log.Fatalf("failed to read capture: %v", err)
		}
	}

	trace, err := db.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open trace database: %v", err)
	}
	defer trace.Close()

	batches, latency, byCause, err := loadExchanges(trace)
	if err != nil {
		log.Fatalf("failed to read exchanges: %v", err)
	}
	if len(batches) == 0 {
		log.Fatalf("no exchanges recorded in %s", *dbPath)
	}

	printDist(os.Stdout, "batch", batches)
	printDist(os.Stdout, "latency_us", latency)
	printCauses(os.Stdout, byCause)

	if err := stats.SaveBatchPlot(*out, batches, *title); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}
	log.Printf("wrote %s (%d exchanges)", *out, len(batches))
}
