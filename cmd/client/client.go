package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"hati/internal/engine"
	hatiNet "hati/internal/net"
)

func main() {
	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'modify', 'depth']")
	securityStr := flag.String("security", "", "Security UUID (compulsory)")

	// Order Parameters
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'limit' or 'market'")
	price := flag.Float64("price", 100.0, "Limit price")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")

	// Cancel/Modify Parameters
	orderStr := flag.String("order", "", "UUID of the order to cancel or modify")

	// Depth Parameters
	levels := flag.Uint("levels", 5, "Number of depth levels per side")

	flag.Parse()

	// Validation
	securityID, err := uuid.Parse(*securityStr)
	if err != nil {
		fmt.Println("Error: -security must be a valid UUID.")
		flag.Usage()
		os.Exit(1)
	}

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s\n", *serverAddr)

	// Prepare Enums
	side := engine.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = engine.Sell
	}

	orderType := engine.LimitOrder
	if strings.ToLower(*typeStr) == "market" {
		orderType = engine.MarketOrder
	}

	// Execute Action
	switch strings.ToLower(*action) {
	case "place":
		for _, q := range parseQuantities(*qtyStr) {
			request(conn, hatiNet.EncodeNewOrder(securityID, orderType, side, *price, q))
			// Small optional sleep to keep server-side sequencing obvious in logs
			time.Sleep(5 * time.Millisecond)
		}

	case "cancel":
		orderID := mustOrderID(*orderStr)
		request(conn, hatiNet.EncodeCancelOrder(securityID, orderID))

	case "modify":
		orderID := mustOrderID(*orderStr)
		request(conn, hatiNet.EncodeModifyOrder(securityID, orderID, *price, firstQuantity(*qtyStr)))

	case "depth":
		request(conn, hatiNet.EncodeBookDepth(securityID, uint32(*levels)))

	default:
		log.Fatalf("Unknown action: %s", *action)
	}
}

func mustOrderID(input string) uuid.UUID {
	orderID, err := uuid.Parse(input)
	if err != nil {
		log.Fatalf("Error: -order must be a valid UUID: %v", err)
	}
	return orderID
}

// parseQuantities splits a comma-separated string into a slice of uint64
func parseQuantities(input string) []uint64 {
	parts := strings.Split(input, ",")
	var result []uint64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil {
			result = append(result, val)
		} else {
			log.Printf("Warning: Invalid quantity '%s', skipping.", p)
		}
	}
	return result
}

func firstQuantity(input string) uint64 {
	quantities := parseQuantities(input)
	if len(quantities) == 0 {
		log.Fatal("Error: -qty is required")
	}
	return quantities[0]
}

// request sends one encoded message and prints the server's reply.
func request(conn net.Conn, msg []byte) {
	if _, err := conn.Write(msg); err != nil {
		log.Fatalf("Failed to send request: %v", err)
	}

	resp, err := hatiNet.ParseResponse(conn)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}
	printResponse(resp)
}

func printResponse(resp hatiNet.Response) {
	if resp.Status != hatiNet.StatusOK {
		fmt.Printf("[SERVER ERROR %d] %s\n", resp.Status, resp.Cause)
		return
	}

	switch resp.TypeOf {
	case hatiNet.OrderAck:
		fmt.Printf("[ORDER] %s status=%s\n", resp.OrderID, resp.OrderStat)
		printFills(resp.Fills)
		if resp.Resting {
			fmt.Printf("  resting: %d @ %.2f\n", resp.Remaining, resp.Price)
		}

	case hatiNet.CancelAck:
		fmt.Printf("[CANCELLED] %s remaining=%d\n", resp.OrderID, resp.Remaining)

	case hatiNet.ModifyAck:
		fmt.Printf("[MODIFIED] %s status=%s now %d @ %.2f\n",
			resp.OrderID, resp.OrderStat, resp.Remaining, resp.Price)
		printFills(resp.Fills)

	case hatiNet.DepthReport:
		fmt.Println("[DEPTH] bids:")
		for _, l := range resp.BidDepth {
			fmt.Printf("  %10.2f x %d\n", l.Price, l.Quantity)
		}
		fmt.Println("[DEPTH] asks:")
		for _, l := range resp.AskDepth {
			fmt.Printf("  %10.2f x %d\n", l.Price, l.Quantity)
		}
	}
}

func printFills(fills []hatiNet.FillEntry) {
	for _, f := range fills {
		fmt.Printf("  fill: %d @ %.2f vs %s\n", f.Quantity, f.Price, f.Counterparty)
	}
}
