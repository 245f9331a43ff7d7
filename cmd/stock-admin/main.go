// stock-admin 是运维用的命令行工具，通过 inventory-service 的 HTTP API
// 补货、查库存和处理预占单。
//
//	stock-admin -cmd provision -product P123 -quantity 100
//	stock-admin -cmd stock -product P123
//	stock-admin -cmd reserve -product P123 -user U1 -quantity 2
//	stock-admin -cmd confirm -reservation <id>
//	stock-admin -cmd cancel -reservation <id>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/hunanlzp/shopx-sub001/internal/pkg/httpclient"
)

func main() {
	var (
		endpoint      = flag.String("endpoint", getEnv("INVENTORY_ENDPOINT", "http://localhost:8086"), "inventory-service base URL")
		cmd           = flag.String("cmd", "", "provision | stock | reserve | confirm | cancel")
		product       = flag.String("product", "", "product ID")
		user          = flag.String("user", "", "user ID (reserve)")
		quantity      = flag.Int64("quantity", 0, "quantity (provision/reserve)")
		reservationID = flag.String("reservation", "", "reservation ID (confirm/cancel)")
		ttl           = flag.String("ttl", "", "reservation ttl, e.g. 15m (reserve, optional)")
		timeout       = flag.Duration("timeout", 10*time.Second, "request timeout")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	client := httpclient.NewClient(otel.Tracer("stock-admin"))

	var (
		out interface{}
		err error
	)
	switch *cmd {
	case "provision":
		requireFlags(*product != "", "-product and -quantity are required")
		var resp map[string]interface{}
		err = client.PostJSON(ctx, *endpoint+"/admin/provision", map[string]interface{}{
			"productId": *product, "quantity": *quantity,
		}, &resp)
		out = resp
	case "stock":
		requireFlags(*product != "", "-product is required")
		var resp map[string]interface{}
		err = client.GetJSON(ctx, *endpoint+"/stock?productId="+url.QueryEscape(*product), &resp)
		out = resp
	case "reserve":
		requireFlags(*product != "" && *user != "" && *quantity > 0, "-product, -user and -quantity are required")
		var resp map[string]interface{}
		err = client.PostJSON(ctx, *endpoint+"/reserve", map[string]interface{}{
			"userId": *user, "productId": *product, "quantity": *quantity, "ttl": *ttl,
		}, &resp)
		out = resp
	case "confirm":
		requireFlags(*reservationID != "", "-reservation is required")
		var resp map[string]interface{}
		err = client.PostJSON(ctx, *endpoint+"/confirm", map[string]string{"reservationId": *reservationID}, &resp)
		out = resp
	case "cancel":
		requireFlags(*reservationID != "", "-reservation is required")
		var resp map[string]interface{}
		err = client.PostJSON(ctx, *endpoint+"/cancel", map[string]string{"reservationId": *reservationID}, &resp)
		out = resp
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	encoded, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(encoded))
}

func requireFlags(ok bool, msg string) {
	if !ok {
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(2)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
