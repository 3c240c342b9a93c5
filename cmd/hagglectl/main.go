package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hagglechat/haggle/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(profile.SocketPath(profileName))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "send":
		if len(args) < 5 {
			fatalUsage("hagglectl send <sender> <buyer> <seller> <text...>")
		}
		cmdSend(ctx, c, args[1], args[2], args[3], strings.Join(args[4:], " "))
	case "conversations":
		if len(args) < 2 {
			fatalUsage("hagglectl conversations <user>")
		}
		cmdConversations(ctx, c, args[1], *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fatalUsage("hagglectl messages <conversation-key>")
		}
		cmdMessages(ctx, c, args[1], *jsonFlag)
	case "watch":
		if len(args) < 2 {
			fatalUsage("hagglectl watch <conversation-key>")
		}
		cmdWatch(c, args[1])
	case "search":
		if len(args) < 2 {
			fatalUsage("hagglectl search <query>")
		}
		cmdSearch(ctx, c, strings.Join(args[1:], " "), *jsonFlag)
	case "party":
		if len(args) < 3 {
			fatalUsage("hagglectl party <identity> <display-name...>")
		}
		cmdParty(ctx, c, args[1], strings.Join(args[2:], " "))
	case "offer":
		if len(args) < 2 {
			fatalUsage("hagglectl offer <create|respond|get|list> ...")
		}
		cmdOffer(ctx, c, args[1:], *jsonFlag)
	default:
		printUsage()
		os.Exit(1)
	}
}

func cmdStatus(ctx context.Context, c *client, asJSON bool) {
	var out struct {
		State    string `json:"state"`
		Messages int64  `json:"messages"`
		Offers   int64  `json:"offers"`
	}
	must(c.get(ctx, "/v1/status", &out))
	if asJSON {
		printJSON(out)
		return
	}
	fmt.Printf("state: %s\nmessages: %d\noffers: %d\n", out.State, out.Messages, out.Offers)
}

func cmdSend(ctx context.Context, c *client, sender, buyer, seller, text string) {
	var out struct {
		ClientMsgID string `json:"client_msg_id"`
	}
	must(c.post(ctx, "/v1/messages", map[string]string{
		"sender": sender, "buyer": buyer, "seller": seller, "text": text,
	}, &out))
	fmt.Printf("queued %s\n", out.ClientMsgID)
}

func cmdConversations(ctx context.Context, c *client, user string, asJSON bool) {
	var out struct {
		Conversations []struct {
			Key           string `json:"key"`
			OtherParty    string `json:"other_party"`
			LastMessage   string `json:"last_message"`
			LastTimestamp int64  `json:"last_timestamp"`
			ProductTitle  string `json:"product_title"`
		} `json:"conversations"`
	}
	must(c.get(ctx, "/v1/conversations?user="+url.QueryEscape(user), &out))
	if asJSON {
		printJSON(out.Conversations)
		return
	}
	for _, conv := range out.Conversations {
		line := fmt.Sprintf("%s  %s  %q", conv.Key, conv.OtherParty, conv.LastMessage)
		if conv.ProductTitle != "" {
			line += "  [" + conv.ProductTitle + "]"
		}
		fmt.Println(line)
	}
}

func cmdMessages(ctx context.Context, c *client, key string, asJSON bool) {
	var out struct {
		Messages []struct {
			MsgID       string `json:"msg_id"`
			Sender      string `json:"sender"`
			Body        string `json:"body"`
			MessageType string `json:"message_type"`
			Timestamp   int64  `json:"timestamp"`
		} `json:"messages"`
	}
	must(c.get(ctx, "/v1/conversations/"+url.PathEscape(key)+"/messages", &out))
	if asJSON {
		printJSON(out.Messages)
		return
	}
	for _, m := range out.Messages {
		ts := time.UnixMilli(m.Timestamp).Format(time.RFC3339)
		fmt.Printf("%s  %-14s %s: %s\n", ts, m.MessageType, m.Sender, m.Body)
	}
}

func cmdWatch(c *client, key string) {
	// Watch streams until interrupted; no request timeout.
	err := c.stream(context.Background(), "/v1/conversations/"+url.PathEscape(key)+"/watch", func(data string) {
		fmt.Println(data)
	})
	must(err)
}

func cmdSearch(ctx context.Context, c *client, query string, asJSON bool) {
	var out struct {
		Results []struct {
			Message struct {
				MsgID  string `json:"msg_id"`
				Sender string `json:"sender"`
			} `json:"message"`
			Snippet string `json:"snippet"`
		} `json:"results"`
	}
	must(c.get(ctx, "/v1/search?q="+url.QueryEscape(query), &out))
	if asJSON {
		printJSON(out.Results)
		return
	}
	for _, r := range out.Results {
		fmt.Printf("%s  %s: %s\n", r.Message.MsgID, r.Message.Sender, r.Snippet)
	}
}

func cmdParty(ctx context.Context, c *client, identity, name string) {
	must(c.put(ctx, "/v1/parties/"+url.PathEscape(identity), map[string]string{
		"display_name": name,
	}, nil))
	fmt.Printf("party %s set to %q\n", identity, name)
}

func cmdOffer(ctx context.Context, c *client, args []string, asJSON bool) {
	switch args[0] {
	case "create":
		if len(args) < 7 {
			fatalUsage("hagglectl offer create <product-id> <buyer> <seller> <original-price> <offered-price> <title> [note...]")
		}
		original, err := strconv.ParseFloat(args[4], 64)
		must(err)
		offered, err := strconv.ParseFloat(args[5], 64)
		must(err)
		note := ""
		if len(args) > 7 {
			note = strings.Join(args[7:], " ")
		}
		var out struct {
			OfferID string `json:"offer_id"`
		}
		must(c.post(ctx, "/v1/offers", map[string]any{
			"product_id":     args[1],
			"buyer":          args[2],
			"seller":         args[3],
			"original_price": original,
			"offered_price":  offered,
			"product_title":  args[6],
			"note":           note,
		}, &out))
		fmt.Printf("offer %s created\n", out.OfferID)
	case "respond":
		if len(args) < 3 || (args[2] != "accept" && args[2] != "reject") {
			fatalUsage("hagglectl offer respond <offer-id> <accept|reject>")
		}
		must(c.post(ctx, "/v1/offers/"+url.PathEscape(args[1])+"/response", map[string]any{
			"accepted": args[2] == "accept",
		}, nil))
		fmt.Printf("offer %s %sed\n", args[1], args[2])
	case "get":
		if len(args) < 2 {
			fatalUsage("hagglectl offer get <offer-id>")
		}
		var out struct {
			Offer json.RawMessage `json:"offer"`
		}
		must(c.get(ctx, "/v1/offers/"+url.PathEscape(args[1]), &out))
		fmt.Println(string(out.Offer))
	case "list":
		if len(args) < 3 || (args[1] != "product" && args[1] != "buyer") {
			fatalUsage("hagglectl offer list <product|buyer> <id>")
		}
		param := "product_id"
		if args[1] == "buyer" {
			param = "buyer"
		}
		var out struct {
			Offers json.RawMessage `json:"offers"`
		}
		must(c.get(ctx, "/v1/offers?"+param+"="+url.QueryEscape(args[2]), &out))
		fmt.Println(string(out.Offers))
	default:
		fatalUsage("hagglectl offer <create|respond|get|list> ...")
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func fatalUsage(usage string) {
	fmt.Fprintln(os.Stderr, "usage: "+usage)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: hagglectl [--profile name] [--json] <command>

commands:
  status                                                  daemon state and counters
  send <sender> <buyer> <seller> <text...>                queue a text message
  conversations <user>                                    list conversations
  messages <conversation-key>                             list messages
  watch <conversation-key>                                stream live snapshots
  search <query>                                          full-text message search
  party <identity> <display-name...>                      set a display name
  offer create <product> <buyer> <seller> <orig> <offered> <title> [note...]
  offer respond <offer-id> <accept|reject>
  offer get <offer-id>
  offer list <product|buyer> <id>`)
}
