package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"secumsg/internal/dto"
	"secumsg/internal/events"
	"secumsg/internal/jwtsigner"
	"secumsg/pkg/relayclient"

	"github.com/google/uuid"
)

const defaultBaseURL = "http://localhost:8085"

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "token":
		err = runToken(args)
	case "upload":
		err = runUpload(args)
	case "bundle":
		err = runBundle(args)
	case "remaining":
		err = runRemaining(args)
	case "listen":
		err = runListen(args)
	case "send":
		err = runSend(args)
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  token      Mint a bearer token for a user (dev only)")
	fmt.Fprintln(os.Stderr, "  upload     Generate and upload a prekey bundle")
	fmt.Fprintln(os.Stderr, "  bundle     Fetch (and consume) a user's prekey bundle")
	fmt.Fprintln(os.Stderr, "  remaining  Show how many one-time prekeys are left")
	fmt.Fprintln(os.Stderr, "  listen     Print realtime events as they arrive")
	fmt.Fprintln(os.Stderr, "  send       Send an opaque message")
	os.Exit(2)
}

// commonFlags registers the connection flags every API command shares.
func commonFlags(fs *flag.FlagSet) (baseURL, token *string) {
	baseURL = fs.String("base-url", getenv("RELAYCTL_BASE_URL", defaultBaseURL), "relay base URL")
	token = fs.String("token", getenv("RELAYCTL_TOKEN", ""), "bearer token")
	return baseURL, token
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func runToken(args []string) error {
	fs := newFlagSet("token")
	user := fs.String("user", "", "subject user id")
	secret := fs.String("secret", getenv("AUTH_HS256_SECRET", ""), "HS256 secret")
	edKey := fs.String("ed25519-key", getenv("RELAYCTL_ED25519_PRIVATE_KEY", ""), "base64 Ed25519 private key or seed")
	issuer := fs.String("issuer", getenv("AUTH_ISSUER", ""), "issuer claim")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*user) == "" {
		return errors.New("-user is required")
	}

	var (
		signer *jwtsigner.Signer
		err    error
	)
	switch {
	case *secret != "":
		signer, err = jwtsigner.NewHS256(*secret, *issuer)
	case *edKey != "":
		signer, err = jwtsigner.NewEd25519(*edKey, "relayctl", *issuer)
	default:
		return errors.New("one of -secret or -ed25519-key is required")
	}
	if err != nil {
		return err
	}
	tok, err := signer.Sign(strings.TrimSpace(*user), *ttl, nil)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func runUpload(args []string) error {
	fs := newFlagSet("upload")
	baseURL, token := commonFlags(fs)
	count := fs.Int("count", 100, "number of one-time prekeys")
	regID := fs.Uint("registration-id", 1, "registration id")
	topUp := fs.Bool("top-up", false, "only add one-time prekeys")
	firstID := fs.Uint("first-id", 1, "first one-time prekey id for -top-up")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		req dto.UploadBundleRequest
		err error
	)
	if *topUp {
		req.OneTimePreKeys, err = relayclient.OneTimePreKeys(uint32(*firstID), *count)
	} else {
		req, err = relayclient.GenerateBundle(uint32(*regID), *count)
	}
	if err != nil {
		return err
	}
	res, err := relayclient.New(*baseURL, *token).UploadBundle(context.Background(), req)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runBundle(args []string) error {
	fs := newFlagSet("bundle")
	baseURL, token := commonFlags(fs)
	user := fs.String("user", "", "owner of the bundle")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("-user is required")
	}
	res, err := relayclient.New(*baseURL, *token).FetchBundle(context.Background(), *user)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runRemaining(args []string) error {
	fs := newFlagSet("remaining")
	baseURL, token := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	res, err := relayclient.New(*baseURL, *token).Remaining(context.Background())
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runListen(args []string) error {
	fs := newFlagSet("listen")
	baseURL, token := commonFlags(fs)
	ack := fs.Bool("ack", true, "confirm delivery of incoming messages")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rt, err := relayclient.New(*baseURL, *token).Dial(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	for {
		f, err := rt.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Printf("[%s] %s %s\n", time.Now().Format(time.RFC3339), f.Event, string(f.Data))

		if *ack && f.Event == events.MessageNew {
			var msg events.NewMessage
			if err := json.Unmarshal(f.Data, &msg); err != nil {
				fmt.Fprintf(os.Stderr, "invalid message:new payload: %v\n", err)
				continue
			}
			created := msg.CreatedAt
			if err := rt.Emit(ctx, events.MessageDelivered, events.DeliveredAck{
				MessageID:     msg.MessageID,
				SenderID:      msg.SenderID,
				EncryptedType: msg.EncryptedType,
				EncryptedBody: msg.EncryptedBody,
				Attachment:    msg.Attachment,
				CreatedAt:     &created,
				ExpiresAt:     msg.ExpiresAt,
			}); err != nil {
				return err
			}
		}
	}
}

func runSend(args []string) error {
	fs := newFlagSet("send")
	baseURL, token := commonFlags(fs)
	to := fs.String("to", "", "recipient user id")
	body := fs.String("body", "", "opaque ciphertext (base64)")
	encType := fs.Int("type", 1, "encryptedType")
	ttl := fs.Int("visibility", 0, "visibility duration in seconds (0 keeps the message)")
	realtime := fs.Bool("realtime", false, "send over the realtime channel instead of HTTP")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *to == "" || *body == "" {
		return errors.New("-to and -body are required")
	}
	var vis *int
	if *ttl > 0 {
		vis = ttl
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client := relayclient.New(*baseURL, *token)

	if !*realtime {
		res, err := client.SendMessage(ctx, dto.SendMessageRequest{
			RecipientID: *to, EncryptedType: *encType, EncryptedBody: *body, VisibilityDuration: vis,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	}

	rt, err := client.Dial(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.Emit(ctx, events.MessageSend, events.SendMessage{
		MessageID: uuid.NewString(), RecipientID: *to, EncryptedType: *encType, EncryptedBody: *body, VisibilityDuration: vis,
	}); err != nil {
		return err
	}
	var ack events.SentAck
	if err := rt.Await(ctx, events.MessageSent, &ack); err != nil {
		return err
	}
	return printJSON(ack)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
