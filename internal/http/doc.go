// Package http is the request transport used by virtual users.
//
// A Request is an immutable snapshot built by NewRequest. Client.Do follows
// redirects itself so every hop can feed the extractors attached to the
// request, decodes compressed bodies, applies the user's cookie jar and
// credentials, and fetches secondary resources. Send and SendSync provide
// the asynchronous and blocking-style call sites:
//
//	req, err := http.NewRequest(http.RequestOptions{
//	    URL:        "https://shop.example.com/login",
//	    Method:     "POST",
//	    Body:       map[string]string{"user": "alice"},
//	    Extractors: []extract.Spec{token},
//	})
//	resp, err := client.SendSync(ctx, req)
//	fmt.Println(resp.Extractors["token"])
package http
