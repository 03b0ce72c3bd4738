// issue-token 为指定会话方签发 JWT，便于本地联调
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/example/localhunt/internal/auth"
	"github.com/example/localhunt/internal/config"
	"github.com/example/localhunt/internal/datamodels/chat"
)

func main() {
	configPath := flag.String("config", "", "yaml config file (falls back to CONFIG_PATH)")
	side := flag.String("side", "requester", "requester (buyer) or counterparty (vendor)")
	id := flag.Int64("id", 0, "user id or vendor id")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	s, err := chat.ParseSide(*side)
	if err != nil {
		log.Fatal(err)
	}
	if *id <= 0 {
		log.Fatal("-id is required")
	}

	token, err := auth.GenerateToken(&cfg.JWT, chat.Party{Side: s, ID: *id})
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
}
