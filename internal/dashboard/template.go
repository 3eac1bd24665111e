package dashboard

import (
	"html/template"
	"io"

	defaults "github.com/xtxerr/ebismon/config"
)

type indexData struct {
	Categories     []Category
	WindowMinutes  int
	MaxMinutes     int
	PollIntervalMs int64
}

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

func renderIndex(w io.Writer, cfg Config) {
	data := indexData{
		Categories:     cfg.Categories,
		WindowMinutes:  cfg.WindowMinutes,
		MaxMinutes:     defaults.DefaultMaxWindowMinutes,
		PollIntervalMs: cfg.PollInterval.Milliseconds(),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Error("render index", "error", err)
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>TwinEBIS monitoring</title>
<script src="https://cdn.plot.ly/plotly-2.35.2.min.js"></script>
<style>
body { font-family: sans-serif; max-width: 1200px; margin: 1em auto; padding: 0 1em; background: #111; color: #ddd; }
h1 { text-align: center; }
.controls { display: flex; gap: 2em; align-items: center; margin-bottom: 1em; }
#status { margin-left: auto; font-family: monospace; }
.err { color: #f55; }
#plot { height: 700px; }
</style>
</head>
<body>
<h1>TwinEBIS monitoring</h1>
<hr>
<div class="controls">
  <label>History (min)
    <input id="minutes" type="number" min="1" max="{{.MaxMinutes}}" value="{{.WindowMinutes}}">
  </label>
  <span>
  {{- range $i, $c := .Categories}}
    <label><input type="radio" name="category" value="{{$c.Name}}"{{if eq $i 0}} checked{{end}}> {{$c.Name}}</label>
  {{- end}}
  </span>
  <span id="status"></span>
</div>
<div id="plot"></div>
<script>
const interval = {{.PollIntervalMs}};

function selection() {
  const cat = document.querySelector('input[name="category"]:checked').value;
  const mins = document.getElementById('minutes').value;
  return '/api/figure?category=' + encodeURIComponent(cat) + '&minutes=' + encodeURIComponent(mins);
}

async function refresh() {
  const status = document.getElementById('status');
  try {
    const resp = await fetch(selection());
    const body = await resp.json();
    if (!resp.ok) {
      status.textContent = body.code + ': ' + body.error;
      status.className = 'err';
      return;
    }
    Plotly.react('plot', body.data, body.layout);
    status.textContent = new Date().toLocaleTimeString();
    status.className = '';
  } catch (e) {
    status.textContent = 'no data';
    status.className = 'err';
  }
}

refresh();
setInterval(refresh, interval);
</script>
</body>
</html>
`
